// Package annotate draws mask decisions back onto the full-size frame.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// Color is a 3-channel value in the channel order of the Mat it is drawn
// on, i.e. the tuple OpenCV drawing primitives take.
type Color [3]uint8

var (
	Green = Color{0, 255, 0}
	Red   = Color{0, 0, 255}
	Blue  = Color{255, 0, 0}
)

const (
	textOffset = 15
	fontScale  = 0.45
	thickness  = 2
)

// RGBA converts c to the color.RGBA gocv expects, which it unpacks as
// (B, G, R) into the first three channels.
func (c Color) RGBA() color.RGBA {
	return color.RGBA{B: c[0], G: c[1], R: c[2]}
}

// ColorFor picks the box color. Unmasked faces are red on video frames and
// blue on still images.
func ColorFor(label int, isVideo bool) Color {
	if label == types.WithMask {
		return Green
	}
	if isVideo {
		return Red
	}
	return Blue
}

// Label renders the caption drawn above a box.
func Label(c types.Classification) string {
	return fmt.Sprintf("%s: %.2f", types.ClassNames[c.Label], c.Probs[types.WithMask])
}

// MapBox scales a box from the resized frame back to the original frame.
// Each edge is rounded half to even and clamped to [0, dim].
func MapBox(b types.Box, orig, resized image.Point) types.Box {
	scale := func(v, o, r int) int {
		m := int(math.RoundToEven(float64(o) * float64(v) / float64(r)))
		return max(0, min(o, m))
	}
	return types.Box{
		Left:   scale(b.Left, orig.X, resized.X),
		Top:    scale(b.Top, orig.Y, resized.Y),
		Right:  scale(b.Right, orig.X, resized.X),
		Bottom: scale(b.Bottom, orig.Y, resized.Y),
	}
}

// SwapChannels returns a copy of frame with BGR and RGB swapped. This is the
// one color conversion each frame goes through.
func SwapChannels(frame gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.CvtColor(frame, &out, gocv.ColorBGRToRGB)
	return out
}

// Annotate returns a channel-swapped copy of orig with one rectangle and
// caption per box. boxes are in the coordinate space of a frame of size
// resized, and results[i] belongs to boxes[i].
func Annotate(orig gocv.Mat, resized image.Point, boxes []types.Box, results []types.Classification, isVideo bool) gocv.Mat {
	out := SwapChannels(orig)
	size := image.Pt(orig.Cols(), orig.Rows())

	for i, box := range boxes {
		b := MapBox(box, size, resized)
		col := ColorFor(results[i].Label, isVideo).RGBA()

		gocv.PutText(&out, Label(results[i]), image.Pt(b.Left, b.Top-textOffset),
			gocv.FontHersheySimplex, fontScale, col, thickness)
		gocv.Rectangle(&out, image.Rect(b.Left, b.Top, b.Right, b.Bottom), col, thickness)
	}
	return out
}
