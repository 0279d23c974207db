package detector

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/maskguard/internal/types"
	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"
)

const (
	// Pigo detection parameters
	minSize          = 20   // Minimum face size (pixels)
	maxSize          = 1000 // Maximum face size (pixels)
	shiftFactor      = 0.1  // Shift factor for detection window
	scaleFactor      = 1.1  // Scale factor for image pyramid
	iouThreshold     = 0.2  // IoU threshold for clustering
	qualityThreshold = 5.0  // Minimum cascade score

	perturbs = 63
)

// Pigo is a pure-Go face detector. Eye centers come from the puploc cascade.
type Pigo struct {
	faces  *pigo.Pigo
	pupils *pigo.PuplocCascade
}

// NewPigo loads the facefinder and puploc cascade files.
func NewPigo(facefinderPath, puplocPath string) (*Pigo, error) {
	data, err := os.ReadFile(facefinderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	faces, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	data, err = os.ReadFile(puplocPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read puploc file: %w", err)
	}
	pl := &pigo.PuplocCascade{}
	pupils, err := pl.UnpackCascade(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack puploc cascade: %w", err)
	}

	return &Pigo{faces: faces, pupils: pupils}, nil
}

func (p *Pigo) Detect(ctx context.Context, img gocv.Mat) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	params := pigo.ImageParams{
		Pixels: gray.ToBytes(),
		Rows:   gray.Rows(),
		Cols:   gray.Cols(),
		Dim:    gray.Cols(),
	}
	cParams := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     min(maxSize, max(gray.Rows(), gray.Cols())),
		ShiftFactor: shiftFactor,
		ScaleFactor: scaleFactor,
		ImageParams: params,
	}

	dets := p.faces.RunCascade(cParams, 0.0)
	dets = p.faces.ClusterDetections(dets, iouThreshold)

	var out []types.Detection
	for _, det := range dets {
		if det.Q < qualityThreshold {
			continue
		}
		left, right := eyeEstimates(det)
		out = append(out, toDetection(det,
			refine(p.pupils.RunDetector(left, params), left),
			refine(p.pupils.RunDetector(right, params), right)))
	}
	return out, nil
}

func (p *Pigo) Close() error { return nil }

// eyeEstimates places the puploc search windows relative to the face center.
func eyeEstimates(det pigo.Detection) (left, right pigo.Puploc) {
	scale := float64(det.Scale)
	row := int(float64(det.Row) - 0.075*scale)

	left = pigo.Puploc{
		Row:      row,
		Col:      int(float64(det.Col) - 0.175*scale),
		Scale:    float32(scale) * 0.25,
		Perturbs: perturbs,
	}
	right = pigo.Puploc{
		Row:      row,
		Col:      int(float64(det.Col) + 0.185*scale),
		Scale:    float32(scale) * 0.25,
		Perturbs: perturbs,
	}
	return left, right
}

// refine falls back to the estimate when puploc finds nothing.
func refine(found *pigo.Puploc, estimate pigo.Puploc) pigo.Puploc {
	if found == nil || found.Row <= 0 || found.Col <= 0 {
		return estimate
	}
	return *found
}

// toDetection converts a cascade hit. Row/Col is the face center and Scale
// its side length.
func toDetection(det pigo.Detection, left, right pigo.Puploc) types.Detection {
	half := float64(det.Scale) / 2
	row, col := float64(det.Row), float64(det.Col)

	return types.Detection{
		Box:        types.BoxF{Left: col - half, Top: row - half, Right: col + half, Bottom: row + half},
		Confidence: float64(det.Q),
		Landmarks: types.Landmarks{
			LeftEye:  types.Point{X: float64(left.Col), Y: float64(left.Row)},
			RightEye: types.Point{X: float64(right.Col), Y: float64(right.Row)},
		},
	}
}
