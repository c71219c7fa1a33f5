package yolodata

// The intermediate annotation metadata representation.

import (
	"fmt"
	"strings"
)

// Keys for known annotation attributes.
const (
	Difficult = "Difficult" // VOC <difficult> flag. Type bool.
	Truncated = "Truncated" // VOC <truncated> flag. Type bool.
)

// Annotation is the intermediate representation of one labelled region.
type Annotation struct {
	Attributes map[string]interface{} // Additional attributes of this annotation.
	Coords     [4]float64             // Absolute x1, y1, x2, y2 offsets from the top-left corner.
	Label      string
	Err        error // A *ParseError if the region's box is missing or invalid; Coords is unset.
}

// Width is the object width from a.Coords. It is negative if the corners are swapped.
func (a Annotation) Width() float64 {
	return a.Coords[2] - a.Coords[0]
}

// Height is the object height from a.Coords. It is negative if the corners are swapped.
func (a Annotation) Height() float64 {
	return a.Coords[3] - a.Coords[1]
}

// VOCBox returns the box in the xmin, xmax, ymin, ymax order used by the normalization formula.
func (a Annotation) VOCBox() (xmin, xmax, ymin, ymax float64) {
	return a.Coords[0], a.Coords[2], a.Coords[1], a.Coords[3]
}

// AnnotatedFile is the intermediate representation of one annotation document.
type AnnotatedFile struct {
	Annotations []Annotation // The annotations, in document order.
	FilePath    string       // The annotation or image file.
	Width       int          // Image width in pixels.
	Height      int          // Image height in pixels.
}

// LabelMappings is an ordered list of label (sub-)string replacements.
type LabelMappings []struct{ old, new string }

// ParseLabelMappings parses mappings in the format old=new.
func ParseLabelMappings(mappings []string) (LabelMappings, error) {
	replacements := make(LabelMappings, 0, len(mappings))
	for _, v := range mappings {
		a := strings.Split(v, "=")
		if len(a) != 2 || a[0] == "" {
			return nil, fmt.Errorf("invalid mapping: %v", v)
		}
		replacements = append(replacements, struct{ old, new string }{a[0], a[1]})
	}

	return replacements, nil
}

// Apply applies the replacements, in order, to label.
func (m LabelMappings) Apply(label string) string {
	for _, r := range m {
		label = strings.Replace(label, r.old, r.new, -1)
	}
	return label
}

// MapLabels replaces the labels of all annotations in f and returns the number of changed labels.
func (f *AnnotatedFile) MapLabels(m LabelMappings) int {
	if len(m) == 0 {
		return 0
	}

	count := 0
	for i := range f.Annotations {
		a := &f.Annotations[i]
		oldLabel := a.Label
		a.Label = m.Apply(a.Label)
		if a.Label != oldLabel {
			count++
		}
	}

	return count
}
