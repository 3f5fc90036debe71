package atr

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

var mockClassifications = []string{"class1", "class2", "class3"}

// MockEngine produces random detections without touching the filesystem.
// It stands in for a real inference engine during integration work.
type MockEngine struct {
	rng *rand.Rand

	// Delay simulates inference time per call. Zero disables the sleep.
	Delay time.Duration
}

func NewMockEngine() *MockEngine {
	return &MockEngine{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		Delay: 100 * time.Millisecond,
	}
}

func (e *MockEngine) Process(path string) ([]Detection, error) {
	slog.Info("Mock engine processing file", "path", path)
	if e.Delay > 0 {
		time.Sleep(e.Delay + time.Duration(e.rng.Intn(400))*time.Millisecond)
	}

	count := e.rng.Intn(6)
	detections := make([]Detection, 0, count)
	for i := 0; i < count; i++ {
		x1 := 0.05 + e.rng.Float64()*0.9
		y1 := 0.05 + e.rng.Float64()*0.9
		w := 0.05 + e.rng.Float64()*0.25
		h := 0.05 + e.rng.Float64()*0.25

		det := Detection{
			Classification: mockClassifications[e.rng.Intn(len(mockClassifications))],
			Confidence:     0.3 + e.rng.Float64()*0.69,
			Box: BoundingBox{
				X1: x1,
				Y1: y1,
				X2: min(1.0, x1+w),
				Y2: min(1.0, y1+h),
			},
		}
		if e.rng.Intn(2) == 0 {
			det.ChipPath = fmt.Sprintf("/output/chips/chip_%04d.nitf", e.rng.Intn(10000))
		}
		detections = append(detections, det)
	}

	slog.Info("Mock engine finished", "path", path, "detections", len(detections))
	return detections, nil
}
