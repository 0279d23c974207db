package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/maskguard/internal/log"
	"github.com/andresmejia3/maskguard/internal/types"
	"github.com/andresmejia3/maskguard/internal/utils" // Using the SafeCommand wrapper
	"gocv.io/x/gocv"
)

// ErrWorker prefixes errors reported by the Python side.
var ErrWorker = errors.New("python worker error")

// ErrWorkerCrashed is returned once the pipe to the worker broke. The worker
// is unusable afterwards.
var ErrWorkerCrashed = errors.New("python worker crashed")

// Request opcodes, first byte of every payload.
const (
	opDetect   byte = 1
	opClassify byte = 2
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// Config controls how the worker process is started.
type Config struct {
	Python      string // interpreter, default python3
	Script      string // default python/worker.py
	ReadTimeout time.Duration
}

// PythonWorker hosts the MTCNN detector and the PyTorch mask model in a
// Python process. It serves as both a Detector and a Classifier; requests
// are serialized so one worker is never interleaved.
type PythonWorker struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout   time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
	broken    error
}

func NewPythonWorker(ctx context.Context, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}
	if _, err := os.Stat(cfg.Script); err != nil {
		return nil, fmt.Errorf("worker script: %w", err)
	}

	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()
	log.Debug(log.Fields{"pid": py.Process.Pid, "script": cfg.Script}, "python worker started")

	return &PythonWorker{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one request and returns the response body after the
// status byte.
func (w *PythonWorker) Communicate(ctx context.Context, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, w.fail(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.fail(err)
	}

	w.setDeadline(ctx)

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, w.fail(err) // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		// A partial reply would desync every later request
		return nil, w.fail(err)
	}
	if len(respBody) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrWorker)
	}

	if respBody[0] == statusError {
		r := bytes.NewReader(respBody[1:])
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: unreadable error message", ErrWorker)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrWorker)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, msg)
	}
	return respBody[1:], nil
}

// fail marks the worker broken, stops the process so its stderr is complete
// and returns an error carrying the Python logs.
func (w *PythonWorker) fail(cause error) error {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()

	err := fmt.Errorf("%w: %w", ErrWorkerCrashed, cause)
	if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
		logs := strings.TrimSpace(w.Cmd.Stderr.String())
		err = fmt.Errorf("%w\n\nPYTHON CRASH LOGS:\n%s", err, logs)
	}
	log.Warn(log.Fields{"error": cause}, "python worker crashed")
	w.broken = err
	return err
}

// setDeadline bounds the response read when the pipe supports deadlines.
func (w *PythonWorker) setDeadline(ctx context.Context) {
	d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error })
	if !ok {
		return
	}
	var deadline time.Time
	if w.timeout > 0 {
		deadline = time.Now().Add(w.timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (deadline.IsZero() || cd.Before(deadline)) {
		deadline = cd
	}
	d.SetReadDeadline(deadline)
}

// Detect sends the raw BGR frame and reads back one record per face.
//
// Request:  [op][width uint32][height uint32][bgr bytes]
// Response: [n uint32] n * [box 4xf32][score f32][left eye 2xf32][right eye 2xf32]
func (w *PythonWorker) Detect(ctx context.Context, img gocv.Mat) ([]types.Detection, error) {
	if img.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("worker detector expects CV8UC3, got %v", img.Type())
	}

	req := new(bytes.Buffer)
	req.WriteByte(opDetect)
	binary.Write(req, binary.BigEndian, uint32(img.Cols()))
	binary.Write(req, binary.BigEndian, uint32(img.Rows()))
	req.Write(img.ToBytes())

	resp, err := w.Communicate(ctx, req.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeDetections(resp)
}

type faceRecord struct {
	Box      [4]float32
	Score    float32
	LeftEye  [2]float32
	RightEye [2]float32
}

func decodeDetections(resp []byte) ([]types.Detection, error) {
	r := bytes.NewReader(resp)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}

	dets := make([]types.Detection, 0, n)
	for i := uint32(0); i < n; i++ {
		var f faceRecord
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return nil, fmt.Errorf("failed to read face %d: %w", i, err)
		}
		dets = append(dets, types.Detection{
			Box: types.BoxF{
				Left: float64(f.Box[0]), Top: float64(f.Box[1]),
				Right: float64(f.Box[2]), Bottom: float64(f.Box[3]),
			},
			Confidence: float64(f.Score),
			Landmarks: types.Landmarks{
				LeftEye:  types.Point{X: float64(f.LeftEye[0]), Y: float64(f.LeftEye[1])},
				RightEye: types.Point{X: float64(f.RightEye[0]), Y: float64(f.RightEye[1])},
			},
		})
	}
	return dets, nil
}

// Infer sends the whole batch in one request.
//
// Request:  [op][n uint32][n * 3*224*224 f32]
// Response: [n uint32][n * 2 f32]
func (w *PythonWorker) Infer(ctx context.Context, batch [][]float32) ([][]float32, error) {
	req := new(bytes.Buffer)
	req.WriteByte(opClassify)
	binary.Write(req, binary.BigEndian, uint32(len(batch)))
	for _, t := range batch {
		binary.Write(req, binary.BigEndian, t)
	}

	resp, err := w.Communicate(ctx, req.Bytes())
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(resp)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read logit count: %w", err)
	}
	out := make([][]float32, n)
	for i := range out {
		row := make([]float32, 2)
		if err := binary.Read(r, binary.BigEndian, row); err != nil {
			return nil, fmt.Errorf("failed to read logits %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}

// Close shuts the worker down. It is safe to call once per role.
func (w *PythonWorker) Close() error {
	w.closeOnce.Do(func() {
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			w.Cmd.Wait()
		}
	})
	return nil
}
