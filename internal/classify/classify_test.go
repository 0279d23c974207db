package classify

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/maskguard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClassifier returns canned logits and counts how often it ran.
type stubClassifier struct {
	logits [][]float32
	err    error
	calls  int
	batch  int
}

func (s *stubClassifier) Infer(_ context.Context, batch [][]float32) ([][]float32, error) {
	s.calls++
	s.batch = len(batch)
	return s.logits, s.err
}

func (s *stubClassifier) Close() error { return nil }

// logitsFor returns logits whose softmax is (1-p, p).
func logitsFor(p float64) []float32 {
	return []float32{0, float32(math.Log(p / (1 - p)))}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		p    float64
		want int
	}{
		{0.0, types.WithoutMask},
		{0.5, types.WithoutMask},
		{0.55, types.WithoutMask},
		{0.5500001, types.WithMask},
		{0.7, types.WithMask},
		{1.0, types.WithMask},
	}

	for _, tt := range tests {
		got := Decide([2]float64{1 - tt.p, tt.p})
		assert.Equal(t, tt.want, got, "p=%v", tt.p)
	}
}

func TestSoftmax(t *testing.T) {
	p := Softmax(0, 0)
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, 0.5, p[1], 1e-12)

	// Large logits must not overflow.
	p = Softmax(1000, 0)
	assert.InDelta(t, 1, p[0], 1e-12)
	assert.InDelta(t, 0, p[1], 1e-12)

	p = Softmax(-1.2, 3.4)
	assert.InDelta(t, 1, p[0]+p[1], 1e-12)
	assert.Greater(t, p[1], p[0])
}

func TestClassify_OrderMatchesInput(t *testing.T) {
	probs := []float64{0.9, 0.1, 0.56, 0.3, 0.7, 0.2, 0.99}

	for n := 1; n <= len(probs); n++ {
		logits := make([][]float32, n)
		crops := make([][]float32, n)
		for i := 0; i < n; i++ {
			logits[i] = logitsFor(probs[i])
			crops[i] = []float32{float32(i)}
		}
		stub := &stubClassifier{logits: logits}

		got, err := New(stub).Classify(context.Background(), crops)
		require.NoError(t, err)
		require.Len(t, got, n)
		assert.Equal(t, 1, stub.calls, "one batched call per frame")
		assert.Equal(t, n, stub.batch)

		for i, r := range got {
			assert.InDelta(t, probs[i], r.Probs[types.WithMask], 1e-6, "batch %d index %d", n, i)
			assert.Equal(t, Decide(r.Probs), r.Label)
		}
	}
}

func TestClassify_Scenarios(t *testing.T) {
	stub := &stubClassifier{logits: [][]float32{logitsFor(0.7), logitsFor(0.4)}}

	got, err := New(stub).Classify(context.Background(), [][]float32{{0}, {1}})
	require.NoError(t, err)

	assert.Equal(t, types.WithMask, got[0].Label)
	assert.InDelta(t, 0.7, got[0].Probs[1], 1e-6)
	assert.Equal(t, types.WithoutMask, got[1].Label)
	assert.InDelta(t, 0.4, got[1].Probs[1], 1e-6)
}

func TestClassify_Errors(t *testing.T) {
	boom := errors.New("boom")

	_, err := New(&stubClassifier{err: boom}).Classify(context.Background(), [][]float32{{0}})
	assert.ErrorIs(t, err, boom)

	_, err = New(&stubClassifier{logits: [][]float32{{0, 1}}}).Classify(context.Background(), [][]float32{{0}, {1}})
	assert.ErrorIs(t, err, ErrLogitShape)

	_, err = New(&stubClassifier{logits: [][]float32{{0, 1, 2}}}).Classify(context.Background(), [][]float32{{0}})
	assert.ErrorIs(t, err, ErrLogitShape)
}

func TestClassify_EmptyBatchSkipsModel(t *testing.T) {
	stub := &stubClassifier{}
	got, err := New(stub).Classify(context.Background(), nil)

	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, stub.calls)
}
