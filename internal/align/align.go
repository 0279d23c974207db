// Package align levels a face by rotating the working frame so that the
// line through the two eyes becomes horizontal.
package align

import (
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// Angle returns the signed rotation in degrees that makes the eye line
// horizontal. The eyes must be two distinct points; coincident points give
// an undefined (NaN) angle.
func Angle(leftEye, rightEye types.Point) float64 {
	v := rightEye.Sub(leftEye)
	n := v.Norm()

	// dot((vx, vy)/|v|, (1, 0))
	cos := math.Max(-1, math.Min(1, v.X/n))
	angle := math.Acos(cos) * 180 / math.Pi

	// Screen y grows downwards, so the sign flips relative to math space.
	if v.Y <= 0 {
		return -angle
	}
	return angle
}

// RotationMatrix returns the 2x3 affine matrix for a rotation of angle
// degrees (counter-clockwise, unit scale) around center. It is the same
// matrix OpenCV's getRotationMatrix2D builds, but keeps a sub-pixel center.
func RotationMatrix(center types.Point, angle float64) [2][3]float64 {
	theta := angle * math.Pi / 180
	alpha := math.Cos(theta)
	beta := math.Sin(theta)

	return [2][3]float64{
		{alpha, beta, (1-alpha)*center.X - beta*center.Y},
		{-beta, alpha, beta*center.X + (1-alpha)*center.Y},
	}
}

// Align rotates the whole frame around the left eye so the eyes end up
// level. The returned Mat has the frame's size and must be closed by the
// caller.
func Align(frame gocv.Mat, leftEye, rightEye types.Point) (gocv.Mat, float64) {
	angle := Angle(leftEye, rightEye)
	rot := RotationMatrix(leftEye, angle)

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, rot[r][c])
		}
	}

	rotated := gocv.NewMat()
	gocv.WarpAffineWithParams(frame, &rotated, m, image.Pt(frame.Cols(), frame.Rows()),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return rotated, angle
}
