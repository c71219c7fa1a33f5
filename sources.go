package yolodata

// Candidate sources for the organizer.

import (
	"fmt"
	"math/rand"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Candidate is an image/annotation pair assigned to a split. Either file may not exist.
type Candidate struct {
	Split      string
	Image      string
	Annotation string
}

// Candidates is the output of a Source.
type Candidates struct {
	List           []Candidate
	Splits         []string // All splits to create, in order, including empty ones.
	MalformedLines int      // Manifest lines skipped because of a wrong field count.
}

// Source enumerates the candidates of a dataset.
type Source interface {
	Candidates() (Candidates, error)
}

// DirectorySource assigns every image in ImageDir to Split. The annotation of an image is the
// file <stem>.xml in AnnotationDir.
type DirectorySource struct {
	ImageDir      string
	AnnotationDir string
	Split         string
}

// Candidates implements Source.
func (s DirectorySource) Candidates() (Candidates, error) {
	if err := validateSplitName(s.Split); err != nil {
		return Candidates{}, err
	}
	list, err := pairImagesWithAnnotations(s.ImageDir, s.AnnotationDir)
	if err != nil {
		return Candidates{}, err
	}
	for i := range list {
		list[i].Split = s.Split
	}

	return Candidates{List: list, Splits: []string{s.Split}}, nil
}

// SplitShare is the percentage of a dataset assigned to a split.
type SplitShare struct {
	Split   string
	Percent int
}

// RandomSplitSource randomly distributes the images in ImageDir over Shares. The percentages must
// add up to 100. The same Seed and directory contents always produce the same assignment.
type RandomSplitSource struct {
	ImageDir      string
	AnnotationDir string
	Shares        []SplitShare
	Seed          int64
}

// Candidates implements Source.
func (s RandomSplitSource) Candidates() (Candidates, error) {
	var sum int
	splits := make([]string, len(s.Shares))
	for i, share := range s.Shares {
		if err := validateSplitName(share.Split); err != nil {
			return Candidates{}, err
		}
		if share.Percent < 0 || share.Percent > 100 {
			return Candidates{}, fmt.Errorf("invalid percentage %d for split %q", share.Percent,
				share.Split)
		}
		sum += share.Percent
		splits[i] = share.Split
	}
	if sum != 100 {
		return Candidates{}, fmt.Errorf("the split percentages do not add up to 100")
	}

	list, err := pairImagesWithAnnotations(s.ImageDir, s.AnnotationDir)
	if err != nil {
		return Candidates{}, err
	}

	// The listing is sorted, so the shuffle only depends on the seed.
	rng := rand.New(rand.NewSource(s.Seed))
	rng.Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })

	// Every split but the first gets the floor of its share; the first takes the remainder.
	sizes := make([]int, len(s.Shares))
	sizes[0] = len(list)
	for i := 1; i < len(s.Shares); i++ {
		sizes[i] = len(list) * s.Shares[i].Percent / 100
		sizes[0] -= sizes[i]
	}
	start := 0
	for i, share := range s.Shares {
		for j := start; j < start+sizes[i]; j++ {
			list[j].Split = share.Split
		}
		log.Printf("Assigned %d images to split %q", sizes[i], share.Split)
		start += sizes[i]
	}

	return Candidates{List: list, Splits: splits}, nil
}

// pairImagesWithAnnotations lists the images in imageDir and pairs each with <stem>.xml in
// annotationDir, whether that file exists or not.
func pairImagesWithAnnotations(imageDir, annotationDir string) ([]Candidate, error) {
	images, err := filesByExtInDir(imageDir, imageExtensions...)
	if err != nil {
		return nil, err
	}
	log.Printf("Found %d image files in %q", len(images), imageDir)

	list := make([]Candidate, len(images))
	for i, img := range images {
		list[i] = Candidate{
			Image:      img,
			Annotation: filepath.Join(annotationDir, stem(img)+".xml"),
		}
	}
	return list, nil
}

// ManifestSource reads one manifest file per split. Relative paths in the manifests are resolved
// against BaseDir.
type ManifestSource struct {
	BaseDir   string
	Manifests []SplitAssignment // Split name to manifest file path.
}

// Candidates implements Source.
func (s ManifestSource) Candidates() (Candidates, error) {
	var c Candidates
	for _, m := range s.Manifests {
		if err := validateSplitName(m.Split); err != nil {
			return Candidates{}, err
		}
		lines, err := ReadManifest(m.Value)
		if err != nil {
			return Candidates{}, fmt.Errorf("cannot read the manifest of split %q: %w", m.Split, err)
		}

		c.Splits = append(c.Splits, m.Split)
		for _, l := range lines {
			switch l.Kind {
			case LinePair:
				c.List = append(c.List, Candidate{
					Split:      m.Split,
					Image:      s.resolve(l.Pair.Image),
					Annotation: s.resolve(l.Pair.Annotation),
				})
			case LineMalformed:
				c.MalformedLines++
				log.WithFields(log.Fields{"file": m.Value, "line": l.Number}).
					Warnf("Malformed manifest line, expected 2 paths: %q", l.Raw)
			}
		}
	}

	return c, nil
}

func (s ManifestSource) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.BaseDir, filepath.FromSlash(path))
}
