package yolodata

// Read-only checks of a dataset directory.

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// DirSummary lists the first entries of a top-level dataset directory.
type DirSummary struct {
	Name    string
	Entries []string // Directory entries are suffixed with a slash.
	Total   int      // The number of entries, including those not listed.
	Err     error    // Set if the directory could not be read.
}

// DescribeStructure lists the directories directly below root with up to maxEntries entries each.
func DescribeStructure(root string, maxEntries int) ([]DirSummary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %w", root, err)
	}

	var summaries []DirSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s := DirSummary{Name: e.Name()}
		sub, err := os.ReadDir(filepath.Join(root, e.Name()))
		if err != nil {
			s.Err = err
		}
		s.Total = len(sub)
		for i := 0; i < len(sub) && i < maxEntries; i++ {
			name := sub[i].Name()
			if sub[i].IsDir() {
				name += "/"
			}
			s.Entries = append(s.Entries, name)
		}
		summaries = append(summaries, s)
	}

	return summaries, nil
}

// LogStructure logs the output of DescribeStructure.
func LogStructure(root string, summaries []DirSummary) {
	log.Printf("Dataset root: %s", root)
	for _, s := range summaries {
		if s.Err != nil {
			log.Printf("- %s/ (unreadable: %v)", s.Name, s.Err)
			continue
		}
		log.Printf("- %s/ (%d entries)", s.Name, s.Total)
		for _, e := range s.Entries {
			log.Printf("  - %s", e)
		}
	}
}

// LabelProblem is a defect found in a label file or a missing counterpart of a file.
type LabelProblem struct {
	File    string
	Line    int // 1-based; 0 if the problem concerns the whole file.
	Message string
}

func (p LabelProblem) String() string {
	if p.Line == 0 {
		return fmt.Sprintf("%s: %s", p.File, p.Message)
	}
	return fmt.Sprintf("%s:%d: %s", p.File, p.Line, p.Message)
}

// VerifyReport is the result of VerifyLabels.
type VerifyReport struct {
	LabelFiles int
	ImageFiles int
	Boxes      int
	Problems   []LabelProblem
}

// OK reports whether no problems were found.
func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

// VerifyLabels checks the label files of the given splits below root. Every line must have five
// fields, a class index within classes, finite values, and a non-negative size. Every label file
// must have an image with the same stem and vice versa. No file is modified.
func VerifyLabels(root string, splits []string, classes ClassList) (*VerifyReport, error) {
	report := &VerifyReport{}
	problem := func(file string, line int, format string, args ...interface{}) {
		report.Problems = append(report.Problems,
			LabelProblem{File: file, Line: line, Message: fmt.Sprintf(format, args...)})
	}

	for _, split := range splits {
		labelFiles, err := filesByExtInDir(LabelDir(root, split), ".txt")
		if err != nil {
			return nil, err
		}
		imageFiles, err := filesByExtInDir(ImageDir(root, split), imageExtensions...)
		if err != nil {
			return nil, err
		}
		report.LabelFiles += len(labelFiles)
		report.ImageFiles += len(imageFiles)

		// Match images and labels by stem.
		imageStems := make(map[string]bool, len(imageFiles))
		for _, f := range imageFiles {
			imageStems[stem(f)] = true
		}
		labelStems := make(map[string]bool, len(labelFiles))
		for _, f := range labelFiles {
			labelStems[stem(f)] = true
			if !imageStems[stem(f)] {
				problem(f, 0, "no image with the same name")
			}
		}
		for _, f := range imageFiles {
			if !labelStems[stem(f)] {
				problem(f, 0, "no label file with the same name")
			}
		}

		// Check the label lines.
		for _, f := range labelFiles {
			lines, err := readLines(f)
			if err != nil {
				problem(f, 0, "%v", err)
				continue
			}
			for i, line := range lines {
				b, err := ParseYOLOLine(line)
				if err != nil {
					problem(f, i+1, "%v", err)
					continue
				}
				report.Boxes++
				if b.Class < 0 || b.Class >= classes.Len() {
					problem(f, i+1, "class index %d out of range [0, %d)", b.Class, classes.Len())
				}
				for _, v := range []float64{b.CenterX, b.CenterY, b.Width, b.Height} {
					if math.IsNaN(v) || math.IsInf(v, 0) {
						problem(f, i+1, "non-finite value")
						break
					}
				}
				if b.Width < 0 || b.Height < 0 {
					problem(f, i+1, "negative box size %vx%v", b.Width, b.Height)
				}
			}
		}
	}

	return report, nil
}
