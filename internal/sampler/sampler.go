// Package sampler turns a frame into classifier-ready face crops.
package sampler

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/maskguard/internal/align"
	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// ScalePercent is the size of the working frame relative to the input.
const ScalePercent = 50

// ImageNet channel statistics, RGB order.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Sample is the per-frame output of the sampler. Boxes and Crops are
// index-aligned with the detector output.
type Sample struct {
	Resized gocv.Mat    // working frame the boxes refer to
	Boxes   []types.Box // rounded, not clamped
	Crops   [][]float32 // CHW tensors, len 3*CropSize*CropSize
	Angles  []float64   // alignment rotation per face, degrees
}

// Close releases the working frame.
func (s *Sample) Close() error {
	return s.Resized.Close()
}

// Sampler detects faces on a downscaled copy of the frame and cuts one
// aligned, normalized crop per face.
type Sampler struct {
	detector types.Detector
}

// New returns a Sampler backed by the given detector.
func New(detector types.Detector) *Sampler {
	return &Sampler{detector: detector}
}

// Sample returns nil when the detector finds no faces.
func (s *Sampler) Sample(ctx context.Context, frame gocv.Mat) (*Sample, error) {
	resized := Downscale(frame)

	dets, err := s.detector.Detect(ctx, resized)
	if err != nil {
		resized.Close()
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(dets) == 0 {
		resized.Close()
		return nil, nil
	}

	width, height := resized.Cols(), resized.Rows()
	out := &Sample{
		Resized: resized,
		Boxes:   make([]types.Box, 0, len(dets)),
		Crops:   make([][]float32, 0, len(dets)),
		Angles:  make([]float64, 0, len(dets)),
	}

	// Each face gets its own rotation of the full working frame.
	for _, det := range dets {
		rotated, angle := align.Align(resized, det.Landmarks.LeftEye, det.Landmarks.RightEye)

		box := det.Box.Round()
		crop := cropFace(rotated, CropRect(box, width, height))
		rotated.Close()

		out.Boxes = append(out.Boxes, box)
		out.Crops = append(out.Crops, ToTensor(crop))
		out.Angles = append(out.Angles, angle)
		crop.Close()
	}

	return out, nil
}

// Downscale shrinks frame to ScalePercent of its size with area
// interpolation.
func Downscale(frame gocv.Mat) gocv.Mat {
	width := frame.Cols() * ScalePercent / 100
	height := frame.Rows() * ScalePercent / 100

	resized := gocv.NewMat()
	gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
	return resized
}

// CropRect clamps box to the frame and returns the region to cut. The
// region is never empty: a collapsed side is widened to one pixel so every
// detection still produces a crop.
func CropRect(box types.Box, width, height int) image.Rectangle {
	c := box.Clamp(width, height)

	if c.Right <= c.Left {
		c.Left = min(c.Left, width-1)
		c.Right = c.Left + 1
	}
	if c.Bottom <= c.Top {
		c.Top = min(c.Top, height-1)
		c.Bottom = c.Top + 1
	}
	return image.Rect(c.Left, c.Top, c.Right, c.Bottom)
}

// cropFace cuts r out of the rotated frame and resizes it to the classifier
// input size.
func cropFace(rotated gocv.Mat, r image.Rectangle) gocv.Mat {
	region := rotated.Region(r)
	defer region.Close()

	face := gocv.NewMat()
	gocv.Resize(region, &face, image.Pt(types.CropSize, types.CropSize), 0, 0, gocv.InterpolationLinear)
	return face
}

// ToTensor converts a CropSize x CropSize BGR crop into a normalized CHW
// tensor in RGB channel order.
func ToTensor(crop gocv.Mat) []float32 {
	const plane = types.CropSize * types.CropSize

	pix := crop.ToBytes()
	tensor := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		b, g, r := pix[i*3], pix[i*3+1], pix[i*3+2]
		tensor[i] = (float32(r)/255 - Mean[0]) / Std[0]
		tensor[plane+i] = (float32(g)/255 - Mean[1]) / Std[1]
		tensor[2*plane+i] = (float32(b)/255 - Mean[2]) / Std[2]
	}
	return tensor
}
