// Package detector provides face detectors that report eye landmarks.
package detector

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// yunetCols is the width of one YuNet result row: box (4), five landmarks
// (10) and the score.
const yunetCols = 15

// DefaultScoreThreshold drops YuNet faces scoring below it.
const DefaultScoreThreshold = 0.9

// YuNet wraps OpenCV's FaceDetectorYN.
type YuNet struct {
	fd   gocv.FaceDetectorYN
	size image.Point
}

// NewYuNet loads the YuNet ONNX model at modelPath.
func NewYuNet(modelPath string, scoreThreshold float32) (*YuNet, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("yunet model: %w", err)
	}
	if scoreThreshold <= 0 {
		scoreThreshold = DefaultScoreThreshold
	}

	size := image.Pt(320, 320)
	fd := gocv.NewFaceDetectorYN(modelPath, "", size)
	fd.SetScoreThreshold(scoreThreshold)
	return &YuNet{fd: fd, size: size}, nil
}

func (y *YuNet) Detect(ctx context.Context, img gocv.Mat) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The input size has to follow the frame, it changes between sources.
	if size := image.Pt(img.Cols(), img.Rows()); size != y.size {
		y.fd.SetInputSize(size)
		y.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	y.fd.Detect(img, &faces)

	if faces.Empty() {
		return nil, nil
	}
	if faces.Cols() < yunetCols {
		return nil, fmt.Errorf("yunet returned %d columns, want %d", faces.Cols(), yunetCols)
	}

	dets := make([]types.Detection, 0, faces.Rows())
	for i := 0; i < faces.Rows(); i++ {
		var row [yunetCols]float32
		for j := range row {
			row[j] = faces.GetFloatAt(i, j)
		}
		dets = append(dets, parseYuNetRow(row))
	}
	return dets, nil
}

func (y *YuNet) Close() error {
	y.fd.Close()
	return nil
}

// parseYuNetRow converts one result row. YuNet names landmarks from the
// subject's point of view, so its right eye is the image-space left eye.
func parseYuNetRow(r [yunetCols]float32) types.Detection {
	x, y, w, h := float64(r[0]), float64(r[1]), float64(r[2]), float64(r[3])
	return types.Detection{
		Box:        types.BoxF{Left: x, Top: y, Right: x + w, Bottom: y + h},
		Confidence: float64(r[14]),
		Landmarks: types.Landmarks{
			LeftEye:  types.Point{X: float64(r[4]), Y: float64(r[5])},
			RightEye: types.Point{X: float64(r[6]), Y: float64(r[7])},
		},
	}
}
