package yolodata

import (
	"fmt"
	"image"
	_ "image/jpeg" // Register the JPEG decoder for image.DecodeConfig.
	_ "image/png"  // Register the PNG decoder for image.DecodeConfig.
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ImageOptions controls how images are written into the dataset. The zero value copies images
// byte-for-byte.
//
// Resizing keeps normalized labels valid since they are fractions of the image size.
type ImageOptions struct {
	LongerSide         int    // Target length of the longer side (0 keeps the aspect ratio).
	ShorterSide        int    // Target length of the shorter side (0 keeps the aspect ratio).
	DownsamplingFilter string // {nearest, box, linear, gaussian, lanczos}, default box.
	UpsamplingFilter   string // {nearest, box, linear, gaussian, lanczos}, default linear.
	Encoding           string // {jpg, png}, default jpg.
	JPEGQuality        int    // [1, 100], default 90.
}

// Resize reports whether images are resampled instead of copied.
func (o ImageOptions) Resize() bool {
	return o.LongerSide > 0 || o.ShorterSide > 0
}

// imageWriter copies or resizes images into a destination directory.
type imageWriter struct {
	resize     bool
	downsample imaging.ResampleFilter
	upsample   imaging.ResampleFilter
	fileExt    string
	opts       ImageOptions
}

func newImageWriter(opts ImageOptions) (*imageWriter, error) {
	if opts.LongerSide < 0 || opts.ShorterSide < 0 {
		return nil, fmt.Errorf("invalid target image size %dx%d", opts.LongerSide, opts.ShorterSide)
	}
	w := &imageWriter{resize: opts.Resize(), opts: opts}
	if !w.resize {
		return w, nil
	}

	// Select the resampling algorithms.
	filters := []struct {
		name   string
		def    imaging.ResampleFilter
		filter *imaging.ResampleFilter
	}{
		{opts.DownsamplingFilter, imaging.Box, &w.downsample},
		{opts.UpsamplingFilter, imaging.Linear, &w.upsample},
	}
	for _, v := range filters {
		switch v.name {
		case "":
			*v.filter = v.def
		case "nearest":
			*v.filter = imaging.NearestNeighbor
		case "box":
			*v.filter = imaging.Box
		case "linear":
			*v.filter = imaging.Linear
		case "gaussian":
			*v.filter = imaging.Gaussian
		case "lanczos":
			*v.filter = imaging.Lanczos
		default:
			return nil, fmt.Errorf("unknown resampling filter %q", v.name)
		}
	}

	// Select the output file extension based on the requested encoding.
	switch strings.ToLower(opts.Encoding) {
	case "", "jpg", "jpeg":
		w.fileExt = ".jpg"
	case "png":
		w.fileExt = ".png"
	default:
		return nil, fmt.Errorf("unsupported output encoding %q", opts.Encoding)
	}
	if w.opts.JPEGQuality < 1 || w.opts.JPEGQuality > 100 {
		w.opts.JPEGQuality = 90
	}

	return w, nil
}

// outputName returns the file name of src in the destination directory.
func (w *imageWriter) outputName(src string) string {
	if !w.resize {
		return filepath.Base(src)
	}
	return stem(src) + w.fileExt
}

// write copies or resizes the image at src into dstDir and returns the destination path.
func (w *imageWriter) write(src, dstDir string) (string, error) {
	dst := filepath.Join(dstDir, w.outputName(src))
	if !w.resize {
		return dst, copyFile(src, dst)
	}

	img, err := loadImage(src)
	if err != nil {
		return "", fmt.Errorf("cannot decode image %q: %w", src, err)
	}
	img, err = resizeImage(img, w.opts.LongerSide, w.opts.ShorterSide, w.downsample,
		w.upsample)
	if err != nil {
		return "", err
	}
	return dst, saveImage(dst, img, w.opts.JPEGQuality)
}

// copyFile copies the contents of src to dst byte-for-byte, replacing dst atomically.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(in, &err)

	return writeFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// resizeImage resamples the image to match the longer and shorter sides (one may be 0).
func resizeImage(img image.Image, longerSide, shorterSide int,
	downsamplingFilter, upsamplingFilter imaging.ResampleFilter) (image.Image, error) {

	imgBounds := img.Bounds()
	imgWidth := imgBounds.Dx()
	imgHeight := imgBounds.Dy()
	if imgWidth == 0 || imgHeight == 0 {
		return nil, fmt.Errorf("cannot resize an empty image")
	}

	imgLonger := imgWidth
	imgShorter := imgHeight
	isLandscape := true
	if imgHeight > imgWidth {
		imgLonger = imgHeight
		imgShorter = imgWidth
		isLandscape = false
	}

	// Calculate the target dimensions.
	if longerSide <= 0 {
		longerSide = int(math.Round(float64(shorterSide) * (float64(imgLonger) / float64(imgShorter))))
	} else if shorterSide <= 0 {
		shorterSide = int(math.Round(float64(longerSide) * (float64(imgShorter) / float64(imgLonger))))
	}

	// Select the filter based on the direction of the rescaling operation.
	var filter imaging.ResampleFilter
	if longerSide*shorterSide < imgWidth*imgHeight {
		filter = downsamplingFilter
	} else {
		filter = upsamplingFilter
	}

	// Resize.
	if isLandscape {
		return imaging.Resize(img, longerSide, shorterSide, filter), nil
	}
	return imaging.Resize(img, shorterSide, longerSide, filter), nil // Portrait.
}

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	return image.DecodeConfig(file)
}

// loadImage reads and decodes the image at path. EXIF orientation is ignored, since annotations
// refer to the stored pixel grid.
func loadImage(path string) (image.Image, error) {
	return imaging.Open(path)
}

// saveImage atomically writes img to path, encoding it as PNG or JPEG depending on the file
// extension of path.
func saveImage(path string, img image.Image, jpegQuality int) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		return imaging.Encode(w, img, format, imaging.JPEGQuality(jpegQuality))
	})
}
