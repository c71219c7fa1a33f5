// Organizes Pascal VOC annotated images into a YOLO training dataset with images/<split> and
// labels/<split> directories, optionally followed by label checks, a dataset descriptor and a
// TFRecord export.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/getsentry/raven-go"
	"github.com/sensorable/yolodata"
	log "github.com/sirupsen/logrus"
)

var (
	cfg yolodata.Config // The organizer configuration.
	src yolodata.Source // The candidate source selected by -source.

	inspect      bool   // List the dataset structure after organizing.
	verify       bool   // Check the written label files.
	dataYAMLPath string // Where to write the dataset descriptor (empty to skip).
	tfRecordDir  string // Where to export TFRecord files (empty to skip).
	numShards    int    // The number of TFRecord shard files per split.
	sentryDSN    string // The Sentry DSN for error reports (empty to disable).
)

// The known candidate sources.
const (
	sourceDir      = "dir"      // One flat image folder into one split.
	sourceRandom   = "random"   // One flat image folder randomly divided into splits.
	sourceManifest = "manifest" // One manifest file of image/annotation pairs per split.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  dir source options:\t\t-images <dir> -annotations <dir>"+
			" [-split <name>]")
		_, _ = fmt.Fprintln(os.Stderr, "  random source options:\t-images <dir> -annotations <dir>"+
			" [-split <name=percent,...>] [-seed]")
		_, _ = fmt.Fprintln(os.Stderr, "  manifest source options:\t-manifests <name=file,...>"+
			" [-manifest-base <dir>]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Dataset arguments.
	flag.StringVar(&cfg.Root, "root", "dataset",
		"The `path` to the dataset root receiving images/<split> and labels/<split>")
	classes := flag.String("classes", "",
		"The comma-separated class names (`name[,...]`); the position is the class index")
	classesFile := flag.String("classes-file", "",
		"The `path` to a file with one class name per line (alternative to -classes)")
	lowercase := flag.Bool("lowercase", false, "Match class names case-insensitively")

	// Source arguments.
	source := flag.String("source", sourceDir,
		"The candidate `source` {dir, random, manifest}")
	imageDir := flag.String("images", "", "The `path` to the flat image input directory")
	annotationDir := flag.String("annotations", "",
		"The `path` to the directory with one <image name>.xml annotation per image")
	split := flag.String("split", "",
		"The split name (dir, default train) or the comma-separated split percentages"+
			" (random, `name=percent[,...]`, default train=80,val=20)")
	seed := flag.Int64("seed", 1, "The random seed for the random source")
	manifests := flag.String("manifests", "",
		"The comma-separated manifest files per split (`name=path[,...]`)")
	manifestBase := flag.String("manifest-base", "",
		"The `path` that relative paths in manifests are resolved against")

	// Conversion arguments.
	legacyOffset := flag.Bool("legacy-center-offset", true,
		"Subtract one pixel from box centers before normalizing (compatible with existing datasets)")
	labelMappings := flag.String("map-labels", "",
		"Comma-separated list of old=new label (sub-)string replacements, applied before the"+
			" class lookup")
	flag.IntVar(&cfg.Workers, "workers", 1, "The number of candidates processed concurrently")
	flag.BoolVar(&cfg.AbortOnParseError, "abort-on-parse-error", false,
		"Stop at the first malformed annotation instead of skipping it")

	// Image processing arguments.
	flag.IntVar(&cfg.Image.LongerSide, "resize-longer", 0,
		"The target `length` for the longer side of the image (zero to keep aspect ratio)")
	flag.IntVar(&cfg.Image.ShorterSide, "resize-shorter", 0,
		"The target `length` for the shorter side of the image (zero to keep aspect ratio)")
	flag.StringVar(&cfg.Image.Encoding, "image-enc", "jpg",
		"The `encoding` for resized images {jpg, png}; images are copied unchanged otherwise")
	flag.IntVar(&cfg.Image.JPEGQuality, "jpeg-quality", 90,
		"The quality to use when encoding JPEGs [1, 100]")

	// Output arguments.
	flag.BoolVar(&inspect, "inspect", false, "List the dataset structure after organizing")
	flag.BoolVar(&verify, "verify", false, "Check the format of the written label files")
	flag.StringVar(&dataYAMLPath, "data-yaml", "",
		"The `path` for the dataset descriptor (requires a train split)")
	flag.StringVar(&tfRecordDir, "tfrecord-dir", "",
		"The `path` to a directory for TFRecord exports of every split")
	flag.IntVar(&numShards, "num-shards", 1,
		"The number of shard files to create per split (tfrecord only)")

	// Logging arguments.
	logLevel := flag.String("log-level", "info", "The log `level` {debug, info, warn, error}")
	logJSON := flag.Bool("log-json", false, "Log JSON objects instead of text")
	flag.StringVar(&sentryDSN, "sentry-dsn", os.Getenv("SENTRY_DSN"),
		"The Sentry `DSN` for reporting fatal errors (empty to disable)")

	// Parse and validate flags.
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		printUsageAndExit("Invalid -log-level: ", *logLevel)
	}
	log.SetLevel(level)
	if *logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if sentryDSN != "" {
		if err := raven.SetDSN(sentryDSN); err != nil {
			printUsageAndExit("Invalid -sentry-dsn: ", err)
		}
	}

	// Classes.
	switch {
	case *classes != "" && *classesFile != "":
		printUsageAndExit("Only one of -classes and -classes-file may be set")
	case *classes != "":
		cfg.Classes, err = yolodata.ParseClassList(*classes, *lowercase)
	case *classesFile != "":
		cfg.Classes, err = yolodata.LoadClassList(*classesFile, *lowercase)
	default:
		printUsageAndExit("Missing -classes or -classes-file")
	}
	if err != nil {
		printUsageAndExit("Invalid class list: ", err)
	}

	// Conversion.
	if *legacyOffset {
		cfg.CenterOffset = yolodata.LegacyCenterOffset
	}
	if *labelMappings != "" {
		cfg.LabelMappings, err = yolodata.ParseLabelMappings(strings.Split(*labelMappings, ","))
		if err != nil {
			printUsageAndExit("Invalid -map-labels: ", err)
		}
	}
	if cfg.Workers < 1 {
		printUsageAndExit("Invalid -workers, must be at least 1")
	}

	// Images.
	if cfg.Image.LongerSide < 0 || cfg.Image.ShorterSide < 0 {
		printUsageAndExit("Invalid target image size")
	}
	if cfg.Image.JPEGQuality < 1 || cfg.Image.JPEGQuality > 100 {
		cfg.Image.JPEGQuality = 90
		log.Print("Invalid JPEG quality, setting it to ", cfg.Image.JPEGQuality)
	}

	// Source.
	if cfg.Root == "" {
		printUsageAndExit("Missing -root")
	}
	cfg.Root = filepath.Clean(cfg.Root)
	switch *source {
	case sourceDir, sourceRandom:
		if *imageDir == "" || *annotationDir == "" {
			printUsageAndExit("Missing -images or -annotations")
		}
		if *manifests != "" {
			printUsageAndExit("Argument -manifests requires -source manifest")
		}
		rel, err := filepath.Rel(filepath.Join(cfg.Root, yolodata.ImagesDir),
			filepath.Clean(*imageDir))
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			printUsageAndExit("The image input and output paths cannot overlap")
		}
	case sourceManifest:
		if *manifests == "" {
			printUsageAndExit("Missing -manifests")
		}
	default:
		printUsageAndExit("Unsupported source: ", *source)
	}

	switch *source {
	case sourceDir:
		if *split == "" {
			*split = "train"
		}
		src = yolodata.DirectorySource{ImageDir: *imageDir, AnnotationDir: *annotationDir,
			Split: *split}
	case sourceRandom:
		if *split == "" {
			*split = "train=80,val=20"
		}
		assignments, err := yolodata.ParseSplitAssignments(*split)
		if err != nil {
			printUsageAndExit("Invalid -split: ", err)
		}
		shares := make([]yolodata.SplitShare, len(assignments))
		for i, a := range assignments {
			p, err := strconv.Atoi(a.Value)
			if err != nil || p < 0 || p > 100 {
				printUsageAndExit("Invalid value in -split: ", a.Value)
			}
			shares[i] = yolodata.SplitShare{Split: a.Split, Percent: p}
		}
		src = yolodata.RandomSplitSource{ImageDir: *imageDir, AnnotationDir: *annotationDir,
			Shares: shares, Seed: *seed}
	case sourceManifest:
		assignments, err := yolodata.ParseSplitAssignments(*manifests)
		if err != nil {
			printUsageAndExit("Invalid -manifests: ", err)
		}
		src = yolodata.ManifestSource{BaseDir: *manifestBase, Manifests: assignments}
	}

	if numShards < 1 {
		printUsageAndExit("Invalid -num-shards, must be at least 1")
	}
}

// fatal reports err to Sentry if configured and exits.
func fatal(msg string, err error) {
	if sentryDSN != "" {
		raven.CaptureErrorAndWait(err, map[string]string{"step": msg})
	}
	log.Fatal(msg, ": ", err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := yolodata.Organize(ctx, cfg, src)
	if report != nil {
		report.Log()
	}
	if err != nil {
		fatal("Failed to organize the dataset", err)
	}

	if inspect {
		summaries, err := yolodata.DescribeStructure(cfg.Root, 5)
		if err != nil {
			fatal("Failed to inspect the dataset", err)
		}
		yolodata.LogStructure(cfg.Root, summaries)
	}

	if verify {
		v, err := yolodata.VerifyLabels(cfg.Root, report.Splits, cfg.Classes)
		if err != nil {
			fatal("Failed to verify the labels", err)
		}
		for _, p := range v.Problems {
			log.Warn(p)
		}
		log.Printf("Verified %d label files with %d boxes for %d images: %d problems",
			v.LabelFiles, v.Boxes, v.ImageFiles, len(v.Problems))
	}

	if dataYAMLPath != "" {
		d, err := yolodata.NewDescriptor(cfg.Root, report.Splits, cfg.Classes)
		if err != nil {
			fatal("Failed to describe the dataset", err)
		}
		if err := yolodata.WriteDescriptor(dataYAMLPath, d); err != nil {
			fatal("Failed to write the dataset descriptor", err)
		}
		log.Printf("Wrote the dataset descriptor to %s", dataYAMLPath)
	}

	if tfRecordDir != "" {
		if err := yolodata.ExportTFRecords(tfRecordDir, report, cfg.Classes, numShards); err != nil {
			fatal("TFRecord export failed", err)
		}
	}

	log.Print("Total number of organized files: ", report.Processed)
}
