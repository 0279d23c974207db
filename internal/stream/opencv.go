package stream

import (
	"context"
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"
)

// OpenCV is the default Backend, built on gocv's VideoCapture, VideoWriter
// and HighGUI window.
type OpenCV struct{}

// OpenFile opens a video file through VideoCapture.
func (OpenCV) OpenFile(_ context.Context, path string) (Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, err
	}
	return newCapture(vc)
}

// OpenDevice opens camera index.
func (OpenCV) OpenDevice(_ context.Context, index int) (Source, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	return newCapture(vc)
}

// OpenWriter encodes Motion-JPEG.
func (OpenCV) OpenWriter(_ context.Context, path string, fps float64, width, height int) (Sink, error) {
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s did not open", path)
	}
	return &writer{w: w}, nil
}

// OpenDisplay opens a HighGUI window named title.
func (OpenCV) OpenDisplay(title string) (Display, error) {
	return &window{w: gocv.NewWindow(title)}, nil
}

type capture struct {
	vc *gocv.VideoCapture
}

func newCapture(vc *gocv.VideoCapture) (Source, error) {
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture did not open")
	}
	return &capture{vc: vc}, nil
}

func (c *capture) Read(dst *gocv.Mat) error {
	if !c.vc.Read(dst) || dst.Empty() {
		return io.EOF
	}
	return nil
}

func (c *capture) Width() int      { return int(c.vc.Get(gocv.VideoCaptureFrameWidth)) }
func (c *capture) Height() int     { return int(c.vc.Get(gocv.VideoCaptureFrameHeight)) }
func (c *capture) FrameCount() int { return max(0, int(c.vc.Get(gocv.VideoCaptureFrameCount))) }
func (c *capture) Close() error    { return c.vc.Close() }

type writer struct {
	w *gocv.VideoWriter
}

func (w *writer) Write(frame gocv.Mat) error { return w.w.Write(frame) }
func (w *writer) Close() error               { return w.w.Close() }

type window struct {
	w *gocv.Window
}

func (w *window) Write(frame gocv.Mat) error {
	w.w.IMShow(frame)
	return nil
}

// Poll stops on 'q'.
func (w *window) Poll(timeout time.Duration) bool {
	key := w.w.WaitKey(max(1, int(timeout.Milliseconds())))
	return key&0xFF == 'q'
}

func (w *window) Close() error { return w.w.Close() }
