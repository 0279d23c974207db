// Package stream drives frames from a camera or a video file through a
// frame processor into a display window or an encoder.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/maskguard/internal/log"
	"github.com/schollz/progressbar/v3"
	"gocv.io/x/gocv"
	"golang.org/x/term"
)

// ErrOpenSource is returned when the camera or input file cannot be opened.
var ErrOpenSource = errors.New("unable to open video source")

const (
	// DefaultFPS is the frame rate of encoded output.
	DefaultFPS = 30.0
	// PollTimeout bounds the key poll between live frames.
	PollTimeout = 10 * time.Millisecond
	// OutputExt is appended to the output name in file mode.
	OutputExt = ".avi"

	windowTitle = "maskguard"
)

// Source yields decoded BGR frames.
type Source interface {
	// Read decodes the next frame into dst. It returns io.EOF at end of stream.
	Read(dst *gocv.Mat) error
	// Width and Height report the stream size, 0 when unknown.
	Width() int
	Height() int
	// FrameCount is 0 when unknown.
	FrameCount() int
	Close() error
}

// Sink consumes processed frames.
type Sink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// Display is a Sink the user can interact with.
type Display interface {
	Sink
	// Poll waits up to timeout for a key press and reports whether the
	// user asked to stop.
	Poll(timeout time.Duration) bool
}

// Backend opens sources and sinks.
type Backend interface {
	OpenFile(ctx context.Context, path string) (Source, error)
	OpenDevice(ctx context.Context, index int) (Source, error)
	OpenWriter(ctx context.Context, path string, fps float64, width, height int) (Sink, error)
	OpenDisplay(title string) (Display, error)
}

// Processor turns an input frame into the frame to show or encode. The
// caller owns the returned Mat, which is only valid when err is nil.
type Processor interface {
	Process(ctx context.Context, frame gocv.Mat, isVideo bool) (gocv.Mat, error)
}

// Mode selects between a camera and a video file.
type Mode int

const (
	// ModeLive reads a camera, mirrors it and shows the result.
	ModeLive Mode = iota
	// ModeFile reads a video file and encodes the result.
	ModeFile
)

// State is the controller lifecycle: OPENING, STREAMING, then DONE or ERROR.
type State int

const (
	StateOpening State = iota
	StateStreaming
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateStreaming:
		return "STREAMING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Config describes one stream run.
type Config struct {
	Mode   Mode
	Device int    // camera index, live mode
	Input  string // video path, file mode
	Output string // output name without extension, file mode
	FPS    float64
	// Progress enables the progress bar in file mode when stderr is a terminal.
	Progress bool
}

// OutputPath is where file mode writes its result.
func (c Config) OutputPath() string {
	return c.Output + OutputExt
}

// Controller runs a single stream from open to release.
type Controller struct {
	cfg     Config
	backend Backend
	proc    Processor

	state  State
	frames int
}

// NewController wires a stream to its backend and frame processor.
func NewController(cfg Config, backend Backend, proc Processor) *Controller {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Controller{cfg: cfg, backend: backend, proc: proc, state: StateOpening}
}

// State returns the state the controller is in.
func (c *Controller) State() State { return c.state }

// Frames returns the number of frames shown or encoded so far.
func (c *Controller) Frames() int { return c.frames }

// Run opens the source and streams until it ends, the user quits or ctx is
// cancelled. It returns StateDone or StateError. The source and sink are
// released on every path.
func (c *Controller) Run(ctx context.Context) (State, error) {
	ctx, runID := log.WithNewRunID(ctx)

	c.state = StateOpening
	src, err := c.open(ctx)
	if err != nil {
		err = fmt.Errorf("%w %s: %w", ErrOpenSource, c.target(), err)
		log.Error(log.Fields{log.RunIDKey: runID, "error": err}, "stream open failed")
		c.state = StateError
		return c.state, err
	}
	defer src.Close()

	c.state = StateStreaming
	log.Info(log.Fields{
		log.RunIDKey: runID,
		"source":     c.target(),
		"width":      src.Width(),
		"height":     src.Height(),
		"frames":     src.FrameCount(),
	}, "streaming")

	if c.cfg.Mode == ModeLive {
		err = c.streamLive(ctx, src)
	} else {
		err = c.streamFile(ctx, src)
	}
	if err != nil {
		log.Error(log.Fields{log.RunIDKey: runID, "error": err, "frames": c.frames}, "stream failed")
		c.state = StateError
		return c.state, err
	}

	log.Info(log.Fields{log.RunIDKey: runID, "frames": c.frames}, "stream finished")
	c.state = StateDone
	return c.state, nil
}

func (c *Controller) target() string {
	if c.cfg.Mode == ModeLive {
		return "device " + strconv.Itoa(c.cfg.Device)
	}
	return c.cfg.Input
}

func (c *Controller) open(ctx context.Context) (Source, error) {
	if c.cfg.Mode == ModeLive {
		return c.backend.OpenDevice(ctx, c.cfg.Device)
	}
	return c.backend.OpenFile(ctx, c.cfg.Input)
}

// next reads a frame. done is true at end of stream or on cancellation.
func next(ctx context.Context, src Source, frame *gocv.Mat) (done bool, err error) {
	if ctx.Err() != nil {
		return true, nil
	}
	if err := src.Read(frame); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return true, fmt.Errorf("failed to read frame: %w", err)
	}
	return false, nil
}

// process runs the processor. A failure caused by cancellation ends the
// stream normally.
func (c *Controller) process(ctx context.Context, frame gocv.Mat) (gocv.Mat, bool, error) {
	out, err := c.proc.Process(ctx, frame, true)
	if err != nil {
		if ctx.Err() != nil {
			return gocv.Mat{}, true, nil
		}
		return gocv.Mat{}, true, fmt.Errorf("frame %d: %w", c.frames, err)
	}
	return out, false, nil
}

func (c *Controller) streamLive(ctx context.Context, src Source) error {
	display, err := c.backend.OpenDisplay(windowTitle)
	if err != nil {
		return fmt.Errorf("failed to open display: %w", err)
	}
	defer display.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	mirrored := gocv.NewMat()
	defer mirrored.Close()

	for {
		done, err := next(ctx, src, &frame)
		if done {
			return err
		}

		gocv.Flip(frame, &mirrored, 1)
		out, done, err := c.process(ctx, mirrored)
		if done {
			return err
		}
		err = display.Write(out)
		out.Close()
		if err != nil {
			return fmt.Errorf("failed to display frame: %w", err)
		}
		c.frames++

		if display.Poll(PollTimeout) {
			return nil
		}
	}
}

func (c *Controller) streamFile(ctx context.Context, src Source) (err error) {
	var sink Sink
	defer func() {
		if sink == nil {
			return
		}
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to finalize %s: %w", c.cfg.OutputPath(), cerr)
		}
	}()

	bar := c.newProgressBar(src.FrameCount())
	defer bar.Finish()

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		done, err := next(ctx, src, &frame)
		if done {
			return err
		}

		out, done, err := c.process(ctx, frame)
		if done {
			return err
		}

		if sink == nil {
			width, height := src.Width(), src.Height()
			if width <= 0 || height <= 0 {
				width, height = frame.Cols(), frame.Rows()
			}
			sink, err = c.backend.OpenWriter(ctx, c.cfg.OutputPath(), c.cfg.FPS, width, height)
			if err != nil {
				out.Close()
				return fmt.Errorf("failed to open encoder: %w", err)
			}
		}

		err = sink.Write(out)
		out.Close()
		if err != nil {
			return fmt.Errorf("failed to encode frame %d: %w", c.frames, err)
		}
		c.frames++
		bar.Add(1)
	}
}

func (c *Controller) newProgressBar(total int) *progressbar.ProgressBar {
	barTotal := int64(total)
	if barTotal <= 0 {
		barTotal = -1 // Spinner mode
	}
	visible := c.cfg.Progress && term.IsTerminal(int(os.Stderr.Fd()))

	return progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("😷 Processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(visible),
	)
}
