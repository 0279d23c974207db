package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/andresmejia3/maskguard/internal/utils"
	"gocv.io/x/gocv"
)

const megabyte = 1024 * 1024

// FFmpeg decodes and encodes files through ffmpeg subprocesses. Cameras and
// the display window still go through OpenCV.
type FFmpeg struct {
	OpenCV
}

// OpenFile starts an ffmpeg decoder that streams the file as JPEG frames.
func (FFmpeg) OpenFile(ctx context.Context, path string) (Source, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	width, height, err := utils.GetVideoDimensions(ctx, path)
	if err != nil {
		return nil, err
	}
	total := utils.GetTotalFrames(ctx, path)

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCmd(ctx, path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	// A single 4K JPEG can exceed the default 64KB token size.
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &ffmpegSource{
		cmd:     cmd,
		cancel:  cancel,
		stderr:  &stderr,
		scanner: scanner,
		width:   width,
		height:  height,
		total:   total,
	}, nil
}

// OpenWriter starts an ffmpeg encoder fed with raw BGR frames. The encoder
// outlives ctx so a cancelled stream still leaves a playable file.
func (FFmpeg) OpenWriter(ctx context.Context, path string, fps float64, width, height int) (Sink, error) {
	cmd := utils.NewFFmpegEncoder(context.WithoutCancel(ctx), path, fps, width, height)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return &ffmpegSink{cmd: cmd, stdin: stdin, stderr: &stderr, width: width, height: height}, nil
}

type ffmpegSource struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stderr  *bytes.Buffer
	scanner *bufio.Scanner

	width, height, total int
	eof                  bool
}

func (s *ffmpegSource) Read(dst *gocv.Mat) error {
	if !s.scanner.Scan() {
		s.eof = true
		if err := s.scanner.Err(); err != nil {
			return fmt.Errorf("decoder read failed: %w", err)
		}
		return io.EOF
	}

	img, err := gocv.IMDecode(s.scanner.Bytes(), gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return errors.New("failed to decode frame: empty image")
	}
	img.CopyTo(dst)
	return nil
}

func (s *ffmpegSource) Width() int      { return s.width }
func (s *ffmpegSource) Height() int     { return s.height }
func (s *ffmpegSource) FrameCount() int { return s.total }

// Close stops the decoder. Exit errors only matter when the whole stream was
// consumed; an early stop kills the process on purpose.
func (s *ffmpegSource) Close() error {
	if !s.eof {
		s.cancel()
		s.cmd.Wait()
		return nil
	}
	defer s.cancel()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("decoder process failed: %w: %s", err, s.stderr.String())
	}
	return nil
}

type ffmpegSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer

	width, height int
}

func (s *ffmpegSink) Write(frame gocv.Mat) error {
	if frame.Cols() != s.width || frame.Rows() != s.height || frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("frame is %dx%d %v, encoder expects %dx%d CV8UC3",
			frame.Cols(), frame.Rows(), frame.Type(), s.width, s.height)
	}
	_, err := s.stdin.Write(frame.ToBytes())
	return err
}

func (s *ffmpegSink) Close() error {
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder process failed: %w: %s", err, s.stderr.String())
	}
	return nil
}
