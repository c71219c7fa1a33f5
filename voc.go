package yolodata

// Pascal VOC specific functionality.

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseError reports a VOC document that lacks a required element or holds an invalid value.
type ParseError struct {
	File    string // The annotation file.
	Element string // The offending element path, e.g. "size/width" or "object[2]/bndbox/xmin".
	Err     error
}

func (e *ParseError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("malformed annotation %q: %v", e.File, e.Err)
	}
	return fmt.Sprintf("malformed annotation %q: %s: %v", e.File, e.Element, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrMissingElement is wrapped by a ParseError for a required element that is absent.
var ErrMissingElement = errors.New("missing element")

// VOCBndBox is the raw bounding box of a VOC object. Missing elements are nil.
type VOCBndBox struct {
	XMin *string `xml:"xmin"`
	XMax *string `xml:"xmax"`
	YMin *string `xml:"ymin"`
	YMax *string `xml:"ymax"`
}

// VOCObject is a single <object> element of a VOC annotation.
type VOCObject struct {
	Name      string     `xml:"name"`
	BndBox    *VOCBndBox `xml:"bndbox"`
	Difficult *string    `xml:"difficult"`
	Truncated *string    `xml:"truncated"`
}

// VOCSize is the <size> element of a VOC annotation.
type VOCSize struct {
	Width  *string `xml:"width"`
	Height *string `xml:"height"`
	Depth  *string `xml:"depth"`
}

// VOCAnnotation defines the VOC annotation structure for a single image.
type VOCAnnotation struct {
	XMLName  xml.Name    `xml:"annotation"`
	Folder   string      `xml:"folder"`
	Filename string      `xml:"filename"`
	Size     *VOCSize    `xml:"size"`
	Objects  []VOCObject `xml:"object"`
}

// FromVOC reads and parses the VOC annotation file at path.
func FromVOC(path string) (data AnnotatedFile, err error) {
	file, err := os.Open(path)
	if err != nil {
		return AnnotatedFile{}, err
	}
	defer closeWithErrCheck(file, &err)

	return ParseVOC(file, path)
}

// ParseVOC parses one VOC annotation document from r. The name identifies the document in errors
// and becomes the FilePath of the result.
func ParseVOC(r io.Reader, name string) (AnnotatedFile, error) {
	var voc VOCAnnotation
	if err := xml.NewDecoder(r).Decode(&voc); err != nil {
		return AnnotatedFile{}, &ParseError{File: name, Err: err}
	}

	fail := func(element string, err error) (AnnotatedFile, error) {
		return AnnotatedFile{}, &ParseError{File: name, Element: element, Err: err}
	}

	// Image size.
	if voc.Size == nil {
		return fail("size", ErrMissingElement)
	}
	width, err := parseDimension(voc.Size.Width)
	if err != nil {
		return fail("size/width", err)
	}
	height, err := parseDimension(voc.Size.Height)
	if err != nil {
		return fail("size/height", err)
	}

	// Convert to the intermediate representation.
	data := AnnotatedFile{
		Annotations: make([]Annotation, 0, len(voc.Objects)),
		FilePath:    name,
		Width:       width,
		Height:      height,
	}
	for i, obj := range voc.Objects {
		// A bad box fails only its own region, and only if the class is later recognized.
		a := Annotation{Label: strings.TrimSpace(obj.Name)}
		coords, element, err := parseBndBox(obj.BndBox)
		if err != nil {
			a.Err = &ParseError{File: name, Element: fmt.Sprintf("object[%d]/%s", i, element), Err: err}
		} else {
			a.Coords = coords
		}

		for _, flag := range []struct {
			key   string
			value *string
		}{{Difficult, obj.Difficult}, {Truncated, obj.Truncated}} {
			if flag.value == nil {
				continue
			}
			if a.Attributes == nil {
				a.Attributes = make(map[string]interface{}, 2)
			}
			a.Attributes[flag.key] = strings.TrimSpace(*flag.value) == "1"
		}

		data.Annotations = append(data.Annotations, a)
	}

	return data, nil
}

// parseBndBox parses the coordinates of box, stored as x1, y1, x2, y2. On error, element names
// the offending element relative to the object.
func parseBndBox(box *VOCBndBox) (coords [4]float64, element string, err error) {
	if box == nil {
		return coords, "bndbox", ErrMissingElement
	}

	fields := []struct {
		name  string
		value *string
	}{
		{"xmin", box.XMin},
		{"ymin", box.YMin},
		{"xmax", box.XMax},
		{"ymax", box.YMax},
	}
	for i, f := range fields {
		if f.value == nil {
			return [4]float64{}, "bndbox/" + f.name, ErrMissingElement
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(*f.value), 64)
		if err != nil {
			return [4]float64{}, "bndbox/" + f.name, err
		}
		coords[i] = v
	}

	return coords, "", nil
}

// parseDimension parses a positive integer image dimension.
func parseDimension(s *string) (int, error) {
	if s == nil {
		return 0, ErrMissingElement
	}
	v, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("dimension must be positive, got %d", v)
	}
	return v, nil
}
