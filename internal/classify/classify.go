// Package classify turns classifier logits into mask decisions.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/maskguard/internal/types"
)

// MaskThreshold is the probability of the WITH MASK class a face has to
// exceed to be labeled as masked. Ties go to WITHOUT MASK.
const MaskThreshold = 0.55

// ErrLogitShape is returned when the classifier output does not have one
// row of two logits per input crop.
var ErrLogitShape = errors.New("unexpected classifier output shape")

// Adapter batches crops through a Classifier and applies the mask decision
// rule to its output.
type Adapter struct {
	classifier types.Classifier
}

// New wraps a classifier capability.
func New(c types.Classifier) *Adapter {
	return &Adapter{classifier: c}
}

// Classify runs all crops through the classifier in a single call. Result i
// belongs to crop i.
func (a *Adapter) Classify(ctx context.Context, crops [][]float32) ([]types.Classification, error) {
	if len(crops) == 0 {
		return nil, nil
	}

	logits, err := a.classifier.Infer(ctx, crops)
	if err != nil {
		return nil, fmt.Errorf("classifier inference failed: %w", err)
	}
	if len(logits) != len(crops) {
		return nil, fmt.Errorf("%w: %d rows for %d crops", ErrLogitShape, len(logits), len(crops))
	}

	results := make([]types.Classification, len(logits))
	for i, row := range logits {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: row %d has %d logits", ErrLogitShape, i, len(row))
		}
		probs := Softmax(row[0], row[1])
		results[i] = types.Classification{Label: Decide(probs), Probs: probs}
	}
	return results, nil
}

// Softmax turns two logits into a probability distribution.
func Softmax(a, b float32) [2]float64 {
	x, y := float64(a), float64(b)
	m := math.Max(x, y)
	ex, ey := math.Exp(x-m), math.Exp(y-m)
	sum := ex + ey
	return [2]float64{ex / sum, ey / sum}
}

// Decide applies the mask threshold to a probability distribution.
func Decide(probs [2]float64) int {
	if probs[types.WithMask] > MaskThreshold {
		return types.WithMask
	}
	return types.WithoutMask
}
