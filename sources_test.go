package yolodata

import (
	"fmt"
	"path/filepath"
	"testing"
)

// flatDataset creates n empty images with annotations in dir and returns the image and
// annotation directories.
func flatDataset(t *testing.T, dir string, n int) (string, string) {
	t.Helper()
	imageDir := filepath.Join(dir, "JPEGImages")
	annotationDir := filepath.Join(dir, "Annotations")
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%06d", i)
		writeFile(t, filepath.Join(imageDir, name+".jpg"), "jpeg "+name)
		writeFile(t, filepath.Join(annotationDir, name+".xml"),
			vocXML(100, 100, vocObject{"fire", 10, 20, 10, 20}))
	}
	return imageDir, annotationDir
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	imageDir, annotationDir := flatDataset(t, dir, 2)
	writeFile(t, filepath.Join(imageDir, "c.PNG"), "png")
	writeFile(t, filepath.Join(imageDir, "notes.txt"), "not an image")

	c, err := DirectorySource{ImageDir: imageDir, AnnotationDir: annotationDir,
		Split: "train"}.Candidates()
	ok(t, err)
	equals(t, []string{"train"}, c.Splits)
	equals(t, []Candidate{
		{"train", filepath.Join(imageDir, "000000.jpg"), filepath.Join(annotationDir, "000000.xml")},
		{"train", filepath.Join(imageDir, "000001.jpg"), filepath.Join(annotationDir, "000001.xml")},
		{"train", filepath.Join(imageDir, "c.PNG"), filepath.Join(annotationDir, "c.xml")},
	}, c.List)

	_, err = DirectorySource{ImageDir: imageDir, AnnotationDir: annotationDir,
		Split: "a/b"}.Candidates()
	assert(t, err != nil, "expected an error for an invalid split name")

	_, err = DirectorySource{ImageDir: filepath.Join(dir, "missing"), Split: "train"}.Candidates()
	assert(t, err != nil, "expected an error for a missing image directory")
}

func TestRandomSplitSource(t *testing.T) {
	imageDir, annotationDir := flatDataset(t, t.TempDir(), 10)
	src := RandomSplitSource{
		ImageDir:      imageDir,
		AnnotationDir: annotationDir,
		Shares:        []SplitShare{{"train", 80}, {"val", 20}, {"test", 0}},
		Seed:          42,
	}

	c, err := src.Candidates()
	ok(t, err)
	equals(t, []string{"train", "val", "test"}, c.Splits)
	equals(t, 10, len(c.List))

	counts := make(map[string]int)
	seen := make(map[string]bool)
	for _, cand := range c.List {
		counts[cand.Split]++
		seen[cand.Image] = true
	}
	equals(t, map[string]int{"train": 8, "val": 2}, counts)
	equals(t, 10, len(seen))

	// The same seed yields the same assignment.
	again, err := src.Candidates()
	ok(t, err)
	equals(t, c, again)
}

func TestRandomSplitSourceRounding(t *testing.T) {
	imageDir, annotationDir := flatDataset(t, t.TempDir(), 7)
	tests := []struct {
		shares []SplitShare
		want   map[string]int
	}{
		{[]SplitShare{{"train", 80}, {"val", 20}}, map[string]int{"train": 6, "val": 1}},
		{[]SplitShare{{"train", 70}, {"val", 20}, {"test", 10}}, map[string]int{"train": 6, "val": 1}},
		{[]SplitShare{{"train", 0}, {"val", 100}}, map[string]int{"val": 7}},
	}
	for _, tt := range tests {
		c, err := RandomSplitSource{ImageDir: imageDir, AnnotationDir: annotationDir,
			Shares: tt.shares, Seed: 1}.Candidates()
		ok(t, err)
		counts := make(map[string]int)
		for _, cand := range c.List {
			counts[cand.Split]++
		}
		equals(t, tt.want, counts)
	}
}

func TestRandomSplitSourceErrors(t *testing.T) {
	imageDir, annotationDir := flatDataset(t, t.TempDir(), 1)
	for _, shares := range [][]SplitShare{
		{{"train", 80}, {"val", 10}},
		{{"train", 120}, {"val", -20}},
		{{"train", 100}, {"", 0}},
		nil,
	} {
		_, err := RandomSplitSource{ImageDir: imageDir, AnnotationDir: annotationDir,
			Shares: shares}.Candidates()
		assert(t, err != nil, "expected an error for %v", shares)
	}
}

func TestManifestSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "train.txt"),
		"images/a.jpg annotations/a.xml\n\nimages/b.jpg\n/abs/c.jpg /abs/c.xml\n")
	writeFile(t, filepath.Join(dir, "val.txt"), "")

	src := ManifestSource{BaseDir: dir, Manifests: []SplitAssignment{
		{"train", filepath.Join(dir, "train.txt")},
		{"val", filepath.Join(dir, "val.txt")},
	}}
	c, err := src.Candidates()
	ok(t, err)
	equals(t, []string{"train", "val"}, c.Splits)
	equals(t, 1, c.MalformedLines)
	equals(t, []Candidate{
		{"train", filepath.Join(dir, "images", "a.jpg"), filepath.Join(dir, "annotations", "a.xml")},
		{"train", "/abs/c.jpg", "/abs/c.xml"},
	}, c.List)

	src.Manifests = append(src.Manifests, SplitAssignment{"test", filepath.Join(dir, "none.txt")})
	_, err = src.Candidates()
	assert(t, err != nil, "expected an error for a missing manifest")
}
