package yolodata

// The dataset descriptor read by YOLO trainers.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Descriptor describes a dataset to a trainer: the root, the image directory of each split
// relative to it, and the class names by index.
type Descriptor struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train,omitempty"`
	Val   string         `yaml:"val,omitempty"`
	Test  string         `yaml:"test,omitempty"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

// NewDescriptor builds the descriptor for a dataset organized below root. Only the train, val and
// test splits are recognized by trainers; other split names are ignored.
func NewDescriptor(root string, splits []string, classes ClassList) (Descriptor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		Path:  filepath.ToSlash(abs),
		NC:    classes.Len(),
		Names: make(map[int]string, classes.Len()),
	}
	for i, n := range classes.Names {
		d.Names[i] = n
	}
	for _, s := range splits {
		dir := ImagesDir + "/" + s
		switch s {
		case "train":
			d.Train = dir
		case "val":
			d.Val = dir
		case "test":
			d.Test = dir
		}
	}
	if d.Train == "" {
		return Descriptor{}, fmt.Errorf("no train split in %v", splits)
	}
	if d.Val == "" {
		// Trainers require a validation set; fall back to the training images.
		d.Val = d.Train
	}

	return d, nil
}

// WriteDescriptor writes d as YAML to path.
func WriteDescriptor(path string, d Descriptor) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	})
}

// ReadDescriptor reads the YAML descriptor at path.
func ReadDescriptor(path string) (Descriptor, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}

	var d Descriptor
	if err := yaml.Unmarshal(enc, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse descriptor %q: %w", path, err)
	}
	return d, nil
}
