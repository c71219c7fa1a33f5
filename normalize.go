package yolodata

// LegacyCenterOffset is the constant pixel offset historically subtracted from box centers before
// normalization. It biases centers up and to the left by one pixel; pass 0 to Normalize to drop it.
const LegacyCenterOffset = 1.0

// NormalizedBox is a bounding box as fractions of the image size, in center/size form.
type NormalizedBox struct {
	Class   int
	CenterX float64
	CenterY float64
	Width   float64
	Height  float64
}

// Normalize converts the absolute box (xmin, xmax, ymin, ymax) of an image of size w x h into
// center/size fractions. centerOffset pixels are subtracted from both center coordinates before
// scaling.
//
// No validation is done: swapped min/max values yield negative sizes and w, h must be positive.
func Normalize(w, h int, xmin, xmax, ymin, ymax, centerOffset float64) NormalizedBox {
	dw := 1. / float64(w)
	dh := 1. / float64(h)
	x := (xmin+xmax)/2.0 - centerOffset
	y := (ymin+ymax)/2.0 - centerOffset
	bw := xmax - xmin
	bh := ymax - ymin

	return NormalizedBox{
		CenterX: x * dw,
		CenterY: y * dh,
		Width:   bw * dw,
		Height:  bh * dh,
	}
}
