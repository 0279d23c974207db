// Package classifier runs the mask model over batches of face crops.
package classifier

import (
	"fmt"

	"github.com/andresmejia3/maskguard/internal/types"
)

// TensorLen is the length of one 3x224x224 CHW crop.
const TensorLen = 3 * types.CropSize * types.CropSize

// numClasses is the width of one logit row.
const numClasses = 2

// flatten packs a batch into one NCHW buffer.
func flatten(batch [][]float32) ([]float32, error) {
	data := make([]float32, 0, len(batch)*TensorLen)
	for i, t := range batch {
		if len(t) != TensorLen {
			return nil, fmt.Errorf("crop %d has %d values, want %d", i, len(t), TensorLen)
		}
		data = append(data, t...)
	}
	return data, nil
}

// splitLogits cuts a flat [n, 2] output into rows.
func splitLogits(data []float32, n int) ([][]float32, error) {
	if len(data) != n*numClasses {
		return nil, fmt.Errorf("model returned %d values for %d crops", len(data), n)
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = append([]float32(nil), data[i*numClasses:(i+1)*numClasses]...)
	}
	return out, nil
}
