// Package atr defines the contract between the service and a SAR automatic
// target recognition engine, plus a mock engine for demos and tests.
package atr

// BoundingBox locates a detection in normalized XYXY image coordinates:
// (0,0) is the top-left of the image, (1,1) the bottom-right, and
// X1 < X2, Y1 < Y2.
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

func (b BoundingBox) Width() float64   { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64  { return b.Y2 - b.Y1 }
func (b BoundingBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }
func (b BoundingBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// Detection is one classified target found in an image.
type Detection struct {
	// Classification is the target type, e.g. "T-72".
	Classification string

	// Confidence is in [0,1]; the service applies its own threshold, so
	// engines should not filter aggressively.
	Confidence float64

	Box BoundingBox

	// ChipPath optionally points at a cropped product image written by the
	// engine for this detection. Empty when no chip was produced.
	ChipPath string
}

// Engine analyzes NITF imagery and reports detections. Process is invoked
// once per inbound file notification, always from the receiver context, and
// must tolerate repeated calls over the process lifetime. Errors are
// recoverable: the service logs them and keeps serving.
type Engine interface {
	Process(path string) ([]Detection, error)
}
