package yolodata

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// ClassList is the ordered list of class names. A class index is the position of its name.
type ClassList struct {
	Names           []string
	CaseInsensitive bool // Compare lower-cased names.
}

// ParseClassList parses a comma-separated list of class names.
func ParseClassList(csv string, caseInsensitive bool) (ClassList, error) {
	return newClassList(strings.Split(csv, ","), caseInsensitive)
}

// LoadClassList reads class names from the file at path, one per line. Blank lines are ignored.
func LoadClassList(path string, caseInsensitive bool) (ClassList, error) {
	lines, err := readLines(path)
	if err != nil {
		return ClassList{}, err
	}
	return newClassList(lines, caseInsensitive)
}

func newClassList(names []string, caseInsensitive bool) (ClassList, error) {
	c := ClassList{Names: make([]string, 0, len(names)), CaseInsensitive: caseInsensitive}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := c.Index(n); dup {
			return ClassList{}, fmt.Errorf("duplicate class name %q", n)
		}
		c.Names = append(c.Names, n)
	}
	if len(c.Names) == 0 {
		return ClassList{}, fmt.Errorf("empty class list")
	}

	return c, nil
}

// Index returns the index of the class name and true, or false if name is not in the list.
func (c ClassList) Index(name string) (int, bool) {
	var i int
	if c.CaseInsensitive {
		lower := strings.ToLower(name)
		i = slices.IndexFunc(c.Names, func(n string) bool { return strings.ToLower(n) == lower })
	} else {
		i = slices.Index(c.Names, name)
	}
	return i, i >= 0
}

// Len is the number of classes.
func (c ClassList) Len() int {
	return len(c.Names)
}
