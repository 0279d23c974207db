// Package types holds the geometry, detections and capability interfaces
// shared across the frame pipeline.
package types

import (
	"context"
	"math"

	"gocv.io/x/gocv"
)

// Labels produced by the mask classifier.
const (
	WithoutMask = 0
	WithMask    = 1
)

// ClassNames is indexed by label.
var ClassNames = [2]string{"WITHOUT MASK", "WITH MASK"}

// CropSize is the side length of the square classifier input.
const CropSize = 224

// Point is a 2-D point in working-frame pixel space.
type Point struct {
	X, Y float64
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Norm returns the euclidean length of p.
func (p Point) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}

// BoxF is a detector box (left, top, right, bottom) in float pixels.
type BoxF struct {
	Left, Top, Right, Bottom float64
}

// Round converts the box to integer pixels. Halves round to even, matching
// how the models' reference tooling rounds.
func (b BoxF) Round() Box {
	return Box{
		Left:   int(math.RoundToEven(b.Left)),
		Top:    int(math.RoundToEven(b.Top)),
		Right:  int(math.RoundToEven(b.Right)),
		Bottom: int(math.RoundToEven(b.Bottom)),
	}
}

// Box is an integer box (left, top, right, bottom).
type Box struct {
	Left, Top, Right, Bottom int
}

// Clamp limits the box to [0, width-1] x [0, height-1].
func (b Box) Clamp(width, height int) Box {
	return Box{
		Left:   max(0, b.Left),
		Top:    max(0, b.Top),
		Right:  min(width-1, b.Right),
		Bottom: min(height-1, b.Bottom),
	}
}

// Landmarks holds the two eye centers of a face. Left and Right refer to
// image space, so LeftEye normally has the smaller X.
type Landmarks struct {
	LeftEye  Point
	RightEye Point
}

// Detection is a single face reported by a Detector.
type Detection struct {
	Box        BoxF
	Confidence float64
	Landmarks  Landmarks
}

// Classification is the mask decision for one face crop.
type Classification struct {
	Label int        // WithoutMask or WithMask
	Probs [2]float64 // softmax over [without, with]
}

// Detector finds faces and their eye landmarks in a BGR image.
// It returns an empty slice when there are no faces.
type Detector interface {
	Detect(ctx context.Context, img gocv.Mat) ([]Detection, error)
	Close() error
}

// Classifier runs the mask model over a batch of normalized 3x224x224 CHW
// tensors and returns two logits per input, in input order.
type Classifier interface {
	Infer(ctx context.Context, batch [][]float32) ([][]float32, error)
	Close() error
}
