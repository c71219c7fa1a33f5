package yolodata

// The dataset organizer: copies images and converts their annotations into split directories.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

// Names of the image and label directories below the dataset root.
const (
	ImagesDir = "images"
	LabelsDir = "labels"
)

// Config configures an organizer run.
type Config struct {
	Root              string        // The dataset root receiving images/<split> and labels/<split>.
	Classes           ClassList     // The classes to keep.
	CenterOffset      float64       // See Normalize and LegacyCenterOffset.
	LabelMappings     LabelMappings // Label replacements applied before the class lookup.
	Workers           int           // Number of files processed concurrently; <= 1 is sequential.
	AbortOnParseError bool          // Stop the run at the first malformed annotation.
	Image             ImageOptions  // How images are written; the zero value copies them.
}

// SkipReason tells why a candidate produced no output.
type SkipReason int

// The skip reasons.
const (
	NotSkipped SkipReason = iota
	SkipMissingImage
	SkipMissingAnnotation
	SkipParseError
	SkipIOError
	SkipCanceled
	SkipDuplicateName
)

func (r SkipReason) String() string {
	switch r {
	case NotSkipped:
		return "not skipped"
	case SkipMissingImage:
		return "missing image"
	case SkipMissingAnnotation:
		return "missing annotation"
	case SkipParseError:
		return "malformed annotation"
	case SkipIOError:
		return "I/O error"
	case SkipCanceled:
		return "canceled"
	case SkipDuplicateName:
		return "duplicate name"
	}
	return fmt.Sprintf("SkipReason(%d)", int(r))
}

// Outcome is the result of processing one candidate.
type Outcome struct {
	Candidate
	Reason         SkipReason
	Err            error         // The error for SkipParseError, SkipIOError and SkipDuplicateName.
	ImagePath      string        // The written image, if processed.
	LabelPath      string        // The written label file, if processed.
	Regions        int           // The number of label lines written.
	UnknownClasses []string      // Labels of the regions dropped for an unknown class.
	Source         AnnotatedFile // The parsed annotation with FilePath set to ImagePath.
}

// Report summarizes an organizer run.
type Report struct {
	RunID                    string
	Found                    int // Candidates found.
	Processed                int // Candidates with an image and label file written.
	SkippedMissingImage      int
	SkippedMissingAnnotation int
	SkippedParseError        int
	Failed                   int // Candidates that hit an I/O error.
	Canceled                 int // Candidates not processed after the run was stopped.
	SkippedDuplicateName     int // Candidates whose output name was already taken.
	SkippedUnknownClass      int // Regions, not files.
	MalformedLines           int // Manifest lines skipped.
	Splits                   []string
	Outcomes                 []Outcome // In candidate order.
}

// SkippedMissing is the number of candidates skipped for a missing image or annotation.
func (r *Report) SkippedMissing() int {
	return r.SkippedMissingImage + r.SkippedMissingAnnotation
}

// ProcessedFiles returns the processed annotations of split, with FilePath set to the image in the
// dataset.
func (r *Report) ProcessedFiles(split string) []AnnotatedFile {
	var files []AnnotatedFile
	for _, o := range r.Outcomes {
		if o.Reason == NotSkipped && o.Split == split {
			files = append(files, o.Source)
		}
	}
	return files
}

// Log writes the summary counts to the log.
func (r *Report) Log() {
	log.WithFields(log.Fields{
		"run":                r.RunID,
		"found":              r.Found,
		"processed":          r.Processed,
		"missing_image":      r.SkippedMissingImage,
		"missing_annotation": r.SkippedMissingAnnotation,
		"malformed_xml":      r.SkippedParseError,
		"unknown_class":      r.SkippedUnknownClass,
		"malformed_manifest": r.MalformedLines,
		"failed":             r.Failed,
		"canceled":           r.Canceled,
		"duplicate_name":     r.SkippedDuplicateName,
	}).Info("Dataset organized")
	for _, split := range r.Splits {
		n := 0
		for _, o := range r.Outcomes {
			if o.Reason == NotSkipped && o.Split == split {
				n++
			}
		}
		log.Printf("Split %q: %d image/label pairs", split, n)
	}
}

// ImageDir returns the image directory of split below root.
func ImageDir(root, split string) string {
	return filepath.Join(root, ImagesDir, split)
}

// LabelDir returns the label directory of split below root.
func LabelDir(root, split string) string {
	return filepath.Join(root, LabelsDir, split)
}

// Organize enumerates the candidates of src and processes them: the image is written to
// images/<split>/ and its converted annotation to labels/<split>/<image stem>.txt.
//
// Missing files, unknown classes, and (unless cfg.AbortOnParseError is set) malformed annotations
// are skipped and reported. Within a split, each output name is claimed by the first candidate
// whose files exist; later candidates with the same image or label name are skipped.
//
// The returned error is non-nil for configuration errors, I/O failures, aborted runs and
// cancellation of ctx; the report then covers the candidates processed so far.
func Organize(ctx context.Context, cfg Config, src Source) (*Report, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("missing dataset root")
	}
	if cfg.Classes.Len() == 0 {
		return nil, fmt.Errorf("empty class list")
	}
	images, err := newImageWriter(cfg.Image)
	if err != nil {
		return nil, err
	}

	candidates, err := src.Candidates()
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	report := &Report{
		RunID:          id.String(),
		Found:          len(candidates.List),
		MalformedLines: candidates.MalformedLines,
		Outcomes:       make([]Outcome, len(candidates.List)),
	}
	logger := log.WithField("run", report.RunID)
	logger.Printf("Organizing %d candidates into %q", report.Found, cfg.Root)

	// Create the split directories.
	splits := make(map[string]bool)
	for _, s := range candidates.Splits {
		if !splits[s] {
			splits[s] = true
			report.Splits = append(report.Splits, s)
		}
	}
	for _, c := range candidates.List {
		if !splits[c.Split] {
			splits[c.Split] = true
			report.Splits = append(report.Splits, c.Split)
		}
	}
	for _, s := range report.Splits {
		if err := validateSplitName(s); err != nil {
			return nil, err
		}
		for _, dir := range []string{ImageDir(cfg.Root, s), LabelDir(cfg.Root, s)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("cannot create directory %q: %w", dir, err)
			}
		}
	}

	conv := Converter{Classes: cfg.Classes, CenterOffset: cfg.CenterOffset,
		Mappings: cfg.LabelMappings}
	p := &candidateProcessor{root: cfg.Root, conv: conv, images: images, logger: logger}

	// Claim the output names in candidate order.
	pending := make([]int, 0, len(candidates.List))
	owners := make(map[string]string)
	for i, c := range candidates.List {
		if fileExists(c.Image) && fileExists(c.Annotation) {
			imagePath, labelPath := p.destinations(c)
			owner, taken := owners[imagePath]
			if !taken {
				owner, taken = owners[labelPath]
			}
			if taken {
				report.Outcomes[i] = Outcome{Candidate: c, Reason: SkipDuplicateName,
					Err: fmt.Errorf("%q has the same output name as %q", c.Image, owner)}
				logger.WithFields(log.Fields{"split": c.Split, "image": c.Image, "first": owner}).
					Warnf("Skipping candidate: %v", SkipDuplicateName)
				continue
			}
			owners[imagePath] = c.Image
			owners[labelPath] = c.Image
		}
		pending = append(pending, i)
	}

	// Process candidates from a work queue. Each outcome slot is written by exactly one worker.
	numTasks := cfg.Workers
	if numTasks < 1 {
		numTasks = 1
	}
	if len(pending) < numTasks {
		numTasks = len(pending)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workQueue := make(chan int, 2*numTasks)
	errs := make(chan error, 1)
	trySendError := func(err error) {
		select {
		case errs <- err:
		default:
		}
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		go func() {
			defer wg.Done()
			for idx := range workQueue {
				c := candidates.List[idx]
				if ctx.Err() != nil {
					report.Outcomes[idx] = Outcome{Candidate: c, Reason: SkipCanceled}
					continue
				}

				o := p.process(c)
				report.Outcomes[idx] = o
				if o.Reason == SkipIOError ||
					(o.Reason == SkipParseError && cfg.AbortOnParseError) {
					trySendError(o.Err)
				}
			}
		}()
	}

	// Feed the work queue until all candidates are queued or the run is canceled.
	fed := 0
feed:
	for ; fed < len(pending); fed++ {
		select {
		case workQueue <- pending[fed]:
		case <-ctx.Done():
			break feed
		}
	}
	close(workQueue)
	wg.Wait()

	for _, i := range pending[fed:] {
		report.Outcomes[i] = Outcome{Candidate: candidates.List[i], Reason: SkipCanceled}
	}
	report.count()

	close(errs)
	if err := <-errs; err != nil {
		return report, err
	}
	return report, ctx.Err()
}

// count tallies the outcomes.
func (r *Report) count() {
	for _, o := range r.Outcomes {
		switch o.Reason {
		case NotSkipped:
			r.Processed++
			r.SkippedUnknownClass += len(o.UnknownClasses)
		case SkipMissingImage:
			r.SkippedMissingImage++
		case SkipMissingAnnotation:
			r.SkippedMissingAnnotation++
		case SkipParseError:
			r.SkippedParseError++
		case SkipIOError:
			r.Failed++
		case SkipCanceled:
			r.Canceled++
		case SkipDuplicateName:
			r.SkippedDuplicateName++
		}
	}
}

// candidateProcessor processes single candidates.
type candidateProcessor struct {
	root   string
	conv   Converter
	images *imageWriter
	logger *log.Entry
}

// process handles one candidate. An I/O failure leaves no output for the candidate behind.
func (p *candidateProcessor) process(c Candidate) Outcome {
	o := Outcome{Candidate: c}
	fields := log.Fields{"split": c.Split, "image": c.Image, "annotation": c.Annotation}

	// Both files must exist. Nothing is copied otherwise.
	switch {
	case !fileExists(c.Image):
		o.Reason = SkipMissingImage
	case !fileExists(c.Annotation):
		o.Reason = SkipMissingAnnotation
	}
	if o.Reason != NotSkipped {
		p.logger.WithFields(fields).Warnf("Skipping candidate: %v", o.Reason)
		return o
	}

	// Parse before writing anything, so a malformed annotation leaves no image behind.
	result, err := p.conv.Prepare(c.Annotation)
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		o.Reason = SkipParseError
		o.Err = err
		p.logger.WithFields(fields).Errorf("Skipping candidate: %v", err)
		return o
	} else if err != nil {
		return p.fail(o, fmt.Errorf("cannot read annotation %q: %w", c.Annotation, err))
	}

	// Write the image, then the label file named after the image.
	imagePath, err := p.images.write(c.Image, ImageDir(p.root, c.Split))
	if err != nil {
		return p.fail(o, fmt.Errorf("cannot write image for %q: %w", c.Image, err))
	}
	_, labelPath := p.destinations(c)
	result.Labels.FilePath = labelPath
	if err := WriteYOLO(labelPath, result.Labels); err != nil {
		_ = os.Remove(imagePath)
		return p.fail(o, fmt.Errorf("cannot write labels for %q: %w", c.Image, err))
	}

	o.ImagePath = imagePath
	o.LabelPath = labelPath
	o.Regions = len(result.Labels.Boxes)
	o.UnknownClasses = result.UnknownClasses
	o.Source = result.Source
	o.Source.FilePath = imagePath
	p.logger.WithFields(fields).Debugf("Wrote %d labels to %q", o.Regions, labelPath)

	return o
}

// destinations returns the image and label paths that c is written to.
func (p *candidateProcessor) destinations(c Candidate) (imagePath, labelPath string) {
	imagePath = filepath.Join(ImageDir(p.root, c.Split), p.images.outputName(c.Image))
	labelPath = filepath.Join(LabelDir(p.root, c.Split), stem(c.Image)+".txt")
	return imagePath, labelPath
}

func (p *candidateProcessor) fail(o Outcome, err error) Outcome {
	o.Reason = SkipIOError
	o.Err = err
	p.logger.WithFields(log.Fields{"split": o.Split, "image": o.Image}).Error(err)
	return o
}
