package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type bufferCloser struct {
	bytes.Buffer
}

func (b *bufferCloser) Close() error { return nil }

func TestFFmpegSink_WritesRawBGR(t *testing.T) {
	stdin := &bufferCloser{}
	sink := &ffmpegSink{stdin: stdin, width: 4, height: 2}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 0), 2, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	require.NoError(t, sink.Write(frame))
	assert.Equal(t, 4*2*3, stdin.Len())
	assert.Equal(t, []byte{1, 2, 3}, stdin.Bytes()[:3])
}

func TestFFmpegSink_RejectsWrongSize(t *testing.T) {
	stdin := &bufferCloser{}
	sink := &ffmpegSink{stdin: stdin, width: 4, height: 2}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer frame.Close()

	assert.Error(t, sink.Write(frame))
	assert.Zero(t, stdin.Len())
}
