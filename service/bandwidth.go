package service

import (
	"math"

	"github.com/sarlink/atruci/atr"
)

// Bandwidth estimate parameters. Source imagery dimensions are not carried
// in the notification, so a representative full-frame size is assumed. Chip
// extents pad the detection box by 40% and are clamped to sane pixel sizes.
const (
	assumedImageSide = 1024
	chipPadding      = 1.4
	minChipSide      = 64
	maxChipSide      = 512
)

func chipSide(norm float64) int {
	px := int(math.Round(norm * chipPadding * assumedImageSide))
	if px < minChipSide {
		return minChipSide
	}
	if px > maxChipSide {
		return maxChipSide
	}
	return px
}

// CompressionRatio estimates how much smaller transmitting per-detection
// chips is than transmitting the full frame, scaled by the fraction of
// detections actually published. It is advisory telemetry only: the value
// is logged and exposed on the status endpoint but never put on the wire.
// Returns 0 when there is nothing to estimate.
func CompressionRatio(detections []atr.Detection, published int) float64 {
	if len(detections) == 0 || published == 0 {
		return 0
	}

	chipPixels := 0
	for _, det := range detections {
		chipPixels += chipSide(det.Box.Width()) * chipSide(det.Box.Height())
	}

	full := float64(assumedImageSide * assumedImageSide)
	return full / float64(chipPixels) * float64(published) / float64(len(detections))
}
