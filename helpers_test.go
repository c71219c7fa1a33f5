package yolodata

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

// ok fails the test if err is not nil.
func ok(tb testing.TB, err error) {
	tb.Helper()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		tb.Fatalf("%s:%d: unexpected error: %s", filepath.Base(file), line, err.Error())
	}
}

// equals fails the test if exp is not equal to act.
func equals(tb testing.TB, exp, act interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(exp, act) {
		_, file, line, _ := runtime.Caller(1)
		tb.Fatalf("%s:%d:\n\n\texp: %#v\n\n\tgot: %#v", filepath.Base(file), line, exp, act)
	}
}

// assert fails the test if the condition is false.
func assert(tb testing.TB, condition bool, msg string, v ...interface{}) {
	tb.Helper()
	if !condition {
		_, file, line, _ := runtime.Caller(1)
		tb.Fatalf("%s:%d: "+msg, append([]interface{}{filepath.Base(file), line}, v...)...)
	}
}

// writeFile writes content to path, creating missing parent directories.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	ok(t, os.MkdirAll(filepath.Dir(path), 0755))
	ok(t, os.WriteFile(path, []byte(content), 0644))
}

// readFile returns the contents of the file at path.
func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	ok(t, err)
	return string(b)
}

// vocObject is a region of a generated VOC document.
type vocObject struct {
	name                   string
	xmin, xmax, ymin, ymax float64
}

// vocXML returns a VOC annotation document for an image of size w x h.
func vocXML(w, h int, objects ...vocObject) string {
	var b strings.Builder
	b.WriteString("<annotation>\n  <folder>VOC</folder>\n  <filename>image.jpg</filename>\n")
	fmt.Fprintf(&b, "  <size>\n    <width>%d</width>\n    <height>%d</height>\n"+
		"    <depth>3</depth>\n  </size>\n", w, h)
	for _, o := range objects {
		fmt.Fprintf(&b, "  <object>\n    <name>%s</name>\n    <difficult>0</difficult>\n"+
			"    <bndbox>\n      <xmin>%v</xmin>\n      <ymin>%v</ymin>\n      <xmax>%v</xmax>\n"+
			"      <ymax>%v</ymax>\n    </bndbox>\n  </object>\n",
			o.name, o.xmin, o.ymin, o.xmax, o.ymax)
	}
	b.WriteString("</annotation>\n")
	return b.String()
}

// createTestImage writes a PNG image of the given size to path.
func createTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}

	ok(t, os.MkdirAll(filepath.Dir(path), 0755))
	file, err := os.Create(path)
	ok(t, err)
	defer file.Close()
	ok(t, png.Encode(file, img))
}

// fireClasses is the class list used by most tests.
func fireClasses(t *testing.T) ClassList {
	t.Helper()
	classes, err := ParseClassList("fire,smoke", false)
	ok(t, err)
	return classes
}
