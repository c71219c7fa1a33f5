package yolodata

// YOLO label file specific functionality.

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// YOLOAnnotatedFile defines the YOLO label structure for a single image: one box per line.
type YOLOAnnotatedFile struct {
	Boxes    []NormalizedBox
	FilePath string
}

// ToYOLO converts the recognized annotations of data to normalized boxes. Annotations whose label
// is not in classes are dropped; their labels are returned in document order. A recognized
// annotation with an invalid box yields its *ParseError.
func ToYOLO(data AnnotatedFile, classes ClassList, centerOffset float64) (
	YOLOAnnotatedFile, []string, error) {

	yoloData := YOLOAnnotatedFile{
		Boxes:    make([]NormalizedBox, 0, len(data.Annotations)),
		FilePath: data.FilePath,
	}
	var unknown []string
	for _, a := range data.Annotations {
		classID, ok := classes.Index(a.Label)
		if !ok {
			unknown = append(unknown, a.Label)
			continue
		}
		if a.Err != nil {
			return YOLOAnnotatedFile{}, nil, a.Err
		}

		xmin, xmax, ymin, ymax := a.VOCBox()
		box := Normalize(data.Width, data.Height, xmin, xmax, ymin, ymax, centerOffset)
		box.Class = classID
		yoloData.Boxes = append(yoloData.Boxes, box)
	}

	return yoloData, unknown, nil
}

// FormatYOLOLine formats b as "<class> <cx> <cy> <w> <h>" without a line terminator. See
// formatFloat for the number format.
func FormatYOLOLine(b NormalizedBox) string {
	return strconv.Itoa(b.Class) + " " + formatFloat(b.CenterX) + " " + formatFloat(b.CenterY) +
		" " + formatFloat(b.Width) + " " + formatFloat(b.Height)
}

// formatFloat writes the shortest representation of v that round-trips, in the form existing
// label files use: whole numbers keep a ".0" and exponents below -4 or above 15 use the
// scientific form with at least two exponent digits ("1e-05", "2.5e+16").
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	e := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return e
	}
	f := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(f, ".") {
		f += ".0"
	}
	return f
}

// ParseYOLOLine parses the line of values for a single box.
func ParseYOLOLine(line string) (NormalizedBox, error) {
	var b NormalizedBox

	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return b, fmt.Errorf("expected 5 fields, got %d in %q", len(tokens), line)
	}

	var err error
	if b.Class, err = strconv.Atoi(tokens[0]); err != nil {
		return b, fmt.Errorf("unexpected class index in %q: %w", line, err)
	}
	values := []*float64{&b.CenterX, &b.CenterY, &b.Width, &b.Height}
	for i := 0; i < 4 && err == nil; i++ {
		*values[i], err = strconv.ParseFloat(tokens[i+1], 64)
	}
	if err != nil {
		return b, fmt.Errorf("unexpected values in %q: %w", line, err)
	}

	return b, nil
}

// ReadYOLO reads and parses the YOLO label file at path.
func ReadYOLO(path string) (YOLOAnnotatedFile, error) {
	lines, err := readLines(path)
	if err != nil {
		return YOLOAnnotatedFile{}, err
	}

	data := YOLOAnnotatedFile{Boxes: make([]NormalizedBox, 0, len(lines)), FilePath: path}
	for i, line := range lines {
		b, err := ParseYOLOLine(line)
		if err != nil {
			return YOLOAnnotatedFile{}, fmt.Errorf("%s:%d: %w", path, i+1, err)
		}
		data.Boxes = append(data.Boxes, b)
	}

	return data, nil
}

// WriteYOLO writes the boxes of data to path, one newline-terminated line per box. The file is
// replaced as a whole; no partially written label file is ever visible at path.
func WriteYOLO(path string, data YOLOAnnotatedFile) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		for _, b := range data.Boxes {
			if _, err := io.WriteString(w, FormatYOLOLine(b)+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

// Converter converts VOC annotation files to YOLO label files.
type Converter struct {
	Classes      ClassList
	CenterOffset float64       // See Normalize and LegacyCenterOffset.
	Mappings     LabelMappings // Applied to labels before the class lookup.
}

// ConversionResult describes the outcome of converting one annotation file.
type ConversionResult struct {
	Source         AnnotatedFile // The parsed annotation, labels mapped, all regions.
	Labels         YOLOAnnotatedFile
	UnknownClasses []string // Labels of the dropped regions.
}

// Prepare parses the VOC file at xmlPath and converts its recognized regions without writing
// anything. A region with an unknown class is logged and skipped. A malformed document, or a
// recognized region with a malformed box, yields a *ParseError.
func (c Converter) Prepare(xmlPath string) (ConversionResult, error) {
	data, err := FromVOC(xmlPath)
	if err != nil {
		return ConversionResult{}, err
	}
	data.MapLabels(c.Mappings)

	labels, unknown, err := ToYOLO(data, c.Classes, c.CenterOffset)
	if err != nil {
		return ConversionResult{}, err
	}
	for _, class := range unknown {
		log.WithFields(log.Fields{"file": xmlPath, "class": class}).
			Warn("Unknown class, skipping region")
	}

	return ConversionResult{Source: data, Labels: labels, UnknownClasses: unknown}, nil
}

// Convert parses the VOC file at xmlPath and writes the recognized regions to labelPath. Nothing
// is written if the document is malformed.
func (c Converter) Convert(xmlPath, labelPath string) (ConversionResult, error) {
	result, err := c.Prepare(xmlPath)
	if err != nil {
		return ConversionResult{}, err
	}

	result.Labels.FilePath = labelPath
	if err := WriteYOLO(labelPath, result.Labels); err != nil {
		return ConversionResult{}, err
	}
	return result, nil
}
