package yolodata

import (
	"context"
	"path/filepath"
	"testing"
)

func organizedDataset(t *testing.T, n int) (string, *Report) {
	t.Helper()
	dir := t.TempDir()
	imageDir, annotationDir := flatDataset(t, dir, n)

	cfg := Config{Root: filepath.Join(dir, "dataset"), Classes: fireClasses(t)}
	src := RandomSplitSource{ImageDir: imageDir, AnnotationDir: annotationDir,
		Shares: []SplitShare{{"train", 80}, {"val", 20}}, Seed: 3}
	report, err := Organize(context.Background(), cfg, src)
	ok(t, err)
	return cfg.Root, report
}

func TestVerifyLabels(t *testing.T) {
	root, report := organizedDataset(t, 10)

	v, err := VerifyLabels(root, report.Splits, fireClasses(t))
	ok(t, err)
	assert(t, v.OK(), "unexpected problems: %v", v.Problems)
	equals(t, 10, v.LabelFiles)
	equals(t, 10, v.ImageFiles)
	equals(t, 10, v.Boxes)

	// Break the dataset.
	trainLabels := LabelDir(root, "train")
	writeFile(t, filepath.Join(trainLabels, "orphan.txt"),
		"0 0.5 0.5 0.1 0.1\n5 0.5 0.5 0.1 0.1\n0 0.5 0.5 0.1\n1 NaN 0.5 0.1 0.1\n0 0.5 0.5 -0.1 0.1\n")
	writeFile(t, filepath.Join(ImageDir(root, "val"), "unlabeled.jpg"), "jpeg")

	v, err = VerifyLabels(root, report.Splits, fireClasses(t))
	ok(t, err)
	assert(t, !v.OK(), "expected problems")

	var messages []string
	for _, p := range v.Problems {
		messages = append(messages, p.String())
	}
	orphan := filepath.Join(trainLabels, "orphan.txt")
	equals(t, []string{
		orphan + ": no image with the same name",
		orphan + ":2: class index 5 out of range [0, 2)",
		orphan + ":3: expected 5 fields, got 4 in \"0 0.5 0.5 0.1\"",
		orphan + ":4: non-finite value",
		orphan + ":5: negative box size -0.1x0.1",
		filepath.Join(ImageDir(root, "val"), "unlabeled.jpg") + ": no label file with the same name",
	}, messages)
}

func TestVerifyLabelsMissingSplit(t *testing.T) {
	root, _ := organizedDataset(t, 2)
	_, err := VerifyLabels(root, []string{"test"}, fireClasses(t))
	assert(t, err != nil, "expected an error for a missing split")
}

func TestDescribeStructure(t *testing.T) {
	root, _ := organizedDataset(t, 10)
	writeFile(t, filepath.Join(root, "README"), "not listed")

	summaries, err := DescribeStructure(root, 5)
	ok(t, err)
	equals(t, 2, len(summaries))
	equals(t, DirSummary{Name: ImagesDir, Entries: []string{"train/", "val/"}, Total: 2},
		summaries[0])
	equals(t, LabelsDir, summaries[1].Name)

	labels, err := DescribeStructure(filepath.Join(root, LabelsDir), 5)
	ok(t, err)
	equals(t, []string{"train", "val"}, []string{labels[0].Name, labels[1].Name})

	splits, err := DescribeStructure(filepath.Join(root, ImagesDir), 3)
	ok(t, err)
	equals(t, "train", splits[0].Name)
	equals(t, 8, splits[0].Total)
	equals(t, 3, len(splits[0].Entries))
	equals(t, 2, splits[1].Total)

	LogStructure(root, summaries)

	_, err = DescribeStructure(filepath.Join(root, "missing"), 5)
	assert(t, err != nil, "expected an error for a missing root")
}
