package sampler

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/maskguard/internal/align"
	"github.com/andresmejia3/maskguard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fakeDetector returns a fixed set of detections and records the size of
// the image it was given.
type fakeDetector struct {
	dets []types.Detection
	err  error
	seen image.Point
}

func (f *fakeDetector) Detect(_ context.Context, img gocv.Mat) ([]types.Detection, error) {
	f.seen = image.Pt(img.Cols(), img.Rows())
	return f.dets, f.err
}

func (f *fakeDetector) Close() error { return nil }

func solidFrame(w, h int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), h, w, gocv.MatTypeCV8UC3)
}

func levelFace(l, t, r, b float64) types.Detection {
	return types.Detection{
		Box:        types.BoxF{Left: l, Top: t, Right: r, Bottom: b},
		Confidence: 0.99,
		Landmarks: types.Landmarks{
			LeftEye:  types.Point{X: l + (r-l)*0.3, Y: t + (b-t)*0.4},
			RightEye: types.Point{X: l + (r-l)*0.7, Y: t + (b-t)*0.4},
		},
	}
}

func TestSample_NoFaces(t *testing.T) {
	frame := solidFrame(640, 480, 10, 20, 30)
	defer frame.Close()

	det := &fakeDetector{}
	s, err := New(det).Sample(context.Background(), frame)

	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Equal(t, image.Pt(320, 240), det.seen, "detector must run on the half-size working frame")
}

func TestSample_DetectorError(t *testing.T) {
	frame := solidFrame(64, 48, 0, 0, 0)
	defer frame.Close()

	boom := errors.New("boom")
	_, err := New(&fakeDetector{err: boom}).Sample(context.Background(), frame)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSample_KeepsDetectionOrder(t *testing.T) {
	frame := solidFrame(640, 480, 128, 128, 128)
	defer frame.Close()

	det := &fakeDetector{dets: []types.Detection{
		levelFace(100.4, 80.6, 140.5, 130.5),
		levelFace(10, 10, 50, 60),
		levelFace(250, 150, 330, 250), // runs past the 320x240 working frame
	}}

	s, err := New(det).Sample(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()

	assert.Equal(t, 320, s.Resized.Cols())
	assert.Equal(t, 240, s.Resized.Rows())
	assert.Equal(t, []types.Box{
		{Left: 100, Top: 81, Right: 140, Bottom: 130},
		{Left: 10, Top: 10, Right: 50, Bottom: 60},
		{Left: 250, Top: 150, Right: 330, Bottom: 250},
	}, s.Boxes, "boxes are rounded but not clamped")
	require.Len(t, s.Crops, 3)
	require.Len(t, s.Angles, 3)
	for i, c := range s.Crops {
		assert.Len(t, c, 3*types.CropSize*types.CropSize, "crop %d", i)
		assert.InDelta(t, 0, s.Angles[i], 1e-9)
	}
}

func TestSample_CropsRotatedFrameWithOriginalBox(t *testing.T) {
	frame := solidFrame(640, 480, 90, 90, 90)
	defer frame.Close()
	// Off-centre patch in the top right of the face, (140,95)-(160,115) once halved.
	gocv.Rectangle(&frame, image.Rect(280, 190, 320, 230), color.RGBA{R: 255, G: 255, B: 255}, -1)

	leftEye := types.Point{X: 100, Y: 100}
	rightEye := types.Point{X: 140, Y: 140}
	det := &fakeDetector{dets: []types.Detection{{
		Box:        types.BoxF{Left: 90, Top: 90, Right: 160, Bottom: 160},
		Confidence: 0.99,
		Landmarks:  types.Landmarks{LeftEye: leftEye, RightEye: rightEye},
	}}}

	s, err := New(det).Sample(context.Background(), frame)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()

	require.Len(t, s.Angles, 1)
	assert.InDelta(t, 45, s.Angles[0], 1e-9)
	assert.Equal(t, types.Box{Left: 90, Top: 90, Right: 160, Bottom: 160}, s.Boxes[0])

	r := CropRect(s.Boxes[0], s.Resized.Cols(), s.Resized.Rows())

	rotated, _ := align.Align(s.Resized, leftEye, rightEye)
	defer rotated.Close()
	fromRotated := cropFace(rotated, r)
	defer fromRotated.Close()

	fromUnrotated := cropFace(s.Resized, r)
	defer fromUnrotated.Close()

	assert.Equal(t, ToTensor(fromRotated), s.Crops[0], "crop comes from the aligned frame")
	assert.NotEqual(t, ToTensor(fromUnrotated), s.Crops[0], "crop must not come from the unrotated frame")
}

func TestToTensor(t *testing.T) {
	// BGR (0, 128, 255) is RGB (255, 128, 0).
	crop := solidFrame(types.CropSize, types.CropSize, 0, 128, 255)
	defer crop.Close()

	tensor := ToTensor(crop)
	plane := types.CropSize * types.CropSize
	require.Len(t, tensor, 3*plane)

	wantR := (1.0 - Mean[0]) / Std[0]
	wantG := (float32(128)/255 - Mean[1]) / Std[1]
	wantB := (0 - Mean[2]) / Std[2]
	for _, i := range []int{0, plane / 2, plane - 1} {
		assert.InDelta(t, wantR, tensor[i], 1e-5)
		assert.InDelta(t, wantG, tensor[plane+i], 1e-5)
		assert.InDelta(t, wantB, tensor[2*plane+i], 1e-5)
	}
}

func TestCropRect(t *testing.T) {
	tests := []struct {
		name string
		box  types.Box
		want image.Rectangle
	}{
		{"Inside", types.Box{Left: 10, Top: 20, Right: 30, Bottom: 40}, image.Rect(10, 20, 30, 40)},
		{"Negative origin", types.Box{Left: -5, Top: -8, Right: 30, Bottom: 40}, image.Rect(0, 0, 30, 40)},
		{"Past the far edge", types.Box{Left: 90, Top: 50, Right: 120, Bottom: 70}, image.Rect(90, 50, 99, 59)},
		{"Collapsed width", types.Box{Left: 99, Top: 10, Right: 130, Bottom: 20}, image.Rect(99, 10, 100, 20)},
		{"Entirely left of frame", types.Box{Left: -20, Top: 10, Right: -2, Bottom: 20}, image.Rect(0, 10, 1, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CropRect(tt.box, 100, 60)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Empty())
			assert.True(t, got.In(image.Rect(0, 0, 100, 60)))
		})
	}
}
