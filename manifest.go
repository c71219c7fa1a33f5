package yolodata

// Split manifest files: one "<image> <annotation>" pair of relative paths per line.

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Pair is an image path and its annotation path.
type Pair struct {
	Image      string
	Annotation string
}

// LineKind tells what a manifest line holds.
type LineKind int

// The manifest line kinds.
const (
	LinePair      LineKind = iota // Exactly two fields.
	LineMalformed                 // Any other number of fields.
	LineBlank                     // Empty or whitespace only; ignored.
)

func (k LineKind) String() string {
	switch k {
	case LinePair:
		return "pair"
	case LineMalformed:
		return "malformed"
	case LineBlank:
		return "blank"
	}
	return fmt.Sprintf("LineKind(%d)", int(k))
}

// ManifestLine is the parse result for one manifest line. Pair is only set for LinePair.
type ManifestLine struct {
	Number int // 1-based.
	Raw    string
	Kind   LineKind
	Pair   Pair
}

// ParseManifestLine parses line number n of a manifest.
func ParseManifestLine(n int, raw string) ManifestLine {
	l := ManifestLine{Number: n, Raw: raw}
	fields := strings.Fields(raw)
	switch len(fields) {
	case 0:
		// Blank lines are padding, not malformed lines, and are not counted.
		l.Kind = LineBlank
	case 2:
		l.Kind = LinePair
		l.Pair = Pair{Image: fields[0], Annotation: fields[1]}
	default:
		l.Kind = LineMalformed
	}
	return l
}

// ReadManifest reads and parses all lines of the manifest file at path.
func ReadManifest(path string) ([]ManifestLine, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	parsed := make([]ManifestLine, len(lines))
	for i, raw := range lines {
		parsed[i] = ParseManifestLine(i+1, raw)
	}
	return parsed, nil
}

// SplitAssignment maps a split name to a value, e.g. a manifest path or a percentage.
type SplitAssignment struct {
	Split string
	Value string
}

// ParseSplitAssignments parses a comma-separated list of split=value assignments, keeping their
// order. Split names must be unique, non-empty, and usable as a single directory name.
func ParseSplitAssignments(s string) ([]SplitAssignment, error) {
	var assignments []SplitAssignment
	seen := make(map[string]bool)
	for _, v := range strings.Split(s, ",") {
		a := strings.SplitN(v, "=", 2)
		if len(a) != 2 {
			return nil, fmt.Errorf("invalid split assignment: %q", v)
		}
		name := strings.TrimSpace(a[0])
		if err := validateSplitName(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate split %q", name)
		}
		seen[name] = true
		assignments = append(assignments, SplitAssignment{Split: name, Value: strings.TrimSpace(a[1])})
	}

	return assignments, nil
}

// validateSplitName rejects names that would not map to exactly one directory below images/.
func validateSplitName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) ||
		filepath.Base(name) != name {
		return fmt.Errorf("invalid split name %q", name)
	}
	return nil
}
