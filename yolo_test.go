package yolodata

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestFormatYOLOLine(t *testing.T) {
	tests := []struct {
		box  NormalizedBox
		want string
	}{
		{NormalizedBox{0, 0.199, 0.37375, 0.2, 0.25}, "0 0.199 0.37375 0.2 0.25"},
		{NormalizedBox{3, 0.5, 0.5, 1, 1}, "3 0.5 0.5 1.0 1.0"},
		{NormalizedBox{1, 0, -0.001, -0.2, 1e-7}, "1 0.0 -0.001 -0.2 1e-07"},
		{NormalizedBox{0, 0.00001, 0.0001, 0.000025, 2e16}, "0 1e-05 0.0001 2.5e-05 2e+16"},
		{NormalizedBox{2, 123456.5, 1e15, 0.5, 0.5}, "2 123456.5 1000000000000000.0 0.5 0.5"},
	}
	for _, tt := range tests {
		equals(t, tt.want, FormatYOLOLine(tt.box))

		b, err := ParseYOLOLine(tt.want)
		ok(t, err)
		equals(t, tt.box, b)
	}
}

func TestFormatFloatSpecialValues(t *testing.T) {
	equals(t, "nan", formatFloat(math.NaN()))
	equals(t, "inf", formatFloat(math.Inf(1)))
	equals(t, "-inf", formatFloat(math.Inf(-1)))
	equals(t, "-0.0", formatFloat(math.Copysign(0, -1)))
}

func TestParseYOLOLineErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"0 0.5 0.5 0.1",
		"0 0.5 0.5 0.1 0.1 0.9",
		"fire 0.5 0.5 0.1 0.1",
		"0 0.5 half 0.1 0.1",
		"1.0 0.5 0.5 0.1 0.1",
	} {
		_, err := ParseYOLOLine(line)
		assert(t, err != nil, "expected an error for %q", line)
	}
}

func TestConverterScenario(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	labelPath := filepath.Join(dir, "a.txt")
	writeFile(t, xmlPath, vocXML(1000, 800, vocObject{"fire", 100, 300, 200, 400}))

	classes, err := ParseClassList("fire", false)
	ok(t, err)
	c := Converter{Classes: classes, CenterOffset: LegacyCenterOffset}
	result, err := c.Convert(xmlPath, labelPath)
	ok(t, err)

	equals(t, "0 0.199 0.37375 0.2 0.25\n", readFile(t, labelPath))
	equals(t, 0, len(result.UnknownClasses))
	equals(t, labelPath, result.Labels.FilePath)

	read, err := ReadYOLO(labelPath)
	ok(t, err)
	equals(t, result.Labels.Boxes, read.Boxes)
}

func TestConverterUnknownClass(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	labelPath := filepath.Join(dir, "a.txt")
	writeFile(t, xmlPath, vocXML(1000, 800, vocObject{"smoke", 100, 300, 200, 400}))

	classes, err := ParseClassList("fire", false)
	ok(t, err)
	c := Converter{Classes: classes, CenterOffset: LegacyCenterOffset}
	result, err := c.Convert(xmlPath, labelPath)
	ok(t, err)

	// An empty label file is written.
	equals(t, "", readFile(t, labelPath))
	equals(t, []string{"smoke"}, result.UnknownClasses)

	var diagnostics int
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["class"] == "smoke" && e.Data["file"] == xmlPath {
			diagnostics++
		}
	}
	equals(t, 1, diagnostics)
}

func TestConverterKeepsSiblingRegions(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	labelPath := filepath.Join(dir, "a.txt")
	writeFile(t, xmlPath, vocXML(200, 100,
		vocObject{"fire", 0, 100, 0, 50},
		vocObject{"car", 10, 20, 10, 20},
		vocObject{"smoke", 100, 200, 50, 100},
		vocObject{"FIRE", 50, 150, 25, 75},
	))

	c := Converter{Classes: fireClasses(t)}
	result, err := c.Convert(xmlPath, labelPath)
	ok(t, err)

	equals(t, []string{"car", "FIRE"}, result.UnknownClasses)
	equals(t, "0 0.25 0.25 0.5 0.5\n1 0.75 0.75 0.5 0.5\n", readFile(t, labelPath))
	equals(t, 4, len(result.Source.Annotations))

	// Case-insensitive matching keeps the upper-case region, in document order.
	c.Classes.CaseInsensitive = true
	result, err = c.Convert(xmlPath, labelPath)
	ok(t, err)
	equals(t, []string{"car"}, result.UnknownClasses)
	lines := strings.Split(strings.TrimSuffix(readFile(t, labelPath), "\n"), "\n")
	equals(t, 3, len(lines))
	equals(t, "0 0.5 0.5 0.5 0.5", lines[2])
}

func TestConverterMapsLabels(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	writeFile(t, xmlPath, vocXML(100, 100, vocObject{"wildfire", 0, 10, 0, 10}))

	mappings, err := ParseLabelMappings([]string{"wild="})
	ok(t, err)
	c := Converter{Classes: fireClasses(t), Mappings: mappings}
	result, err := c.Prepare(xmlPath)
	ok(t, err)

	equals(t, 1, len(result.Labels.Boxes))
	equals(t, "fire", result.Source.Annotations[0].Label)
}

func TestConverterParseErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	labelPath := filepath.Join(dir, "a.txt")
	writeFile(t, xmlPath, "<annotation><object><name>fire</name></object></annotation>")

	c := Converter{Classes: fireClasses(t)}
	_, err := c.Convert(xmlPath, labelPath)
	assert(t, err != nil, "expected an error")
	_, err = os.Stat(labelPath)
	assert(t, os.IsNotExist(err), "label file written for a malformed annotation")
}

func TestConverterUnknownRegionWithoutBox(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "a.xml")
	labelPath := filepath.Join(dir, "a.txt")
	writeFile(t, xmlPath, "<annotation><size><width>200</width><height>100</height></size>"+
		"<object><name>person</name></object>"+
		"<object><name>fire</name><bndbox><xmin>0</xmin><ymin>0</ymin><xmax>100</xmax>"+
		"<ymax>50</ymax></bndbox></object></annotation>")

	classes, err := ParseClassList("fire", false)
	ok(t, err)
	c := Converter{Classes: classes}
	result, err := c.Convert(xmlPath, labelPath)
	ok(t, err)
	equals(t, []string{"person"}, result.UnknownClasses)
	equals(t, "0 0.25 0.25 0.5 0.5\n", readFile(t, labelPath))

	// The same region is fatal to the file once its class is recognized.
	c.Classes, err = ParseClassList("fire,person", false)
	ok(t, err)
	_, err = c.Prepare(xmlPath)
	var parseErr *ParseError
	assert(t, errors.As(err, &parseErr), "expected a *ParseError, got %v", err)
	equals(t, "object[0]/bndbox", parseErr.Element)
	assert(t, errors.Is(err, ErrMissingElement), "unexpected error %v", err)
}
