package classifier

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/andresmejia3/maskguard/internal/types"
	"gocv.io/x/gocv"
)

// DNN runs the ONNX export of the mask model through OpenCV's dnn module,
// for hosts without onnxruntime.
type DNN struct {
	net gocv.Net
}

// NewDNN loads the model at modelPath.
func NewDNN(modelPath string) (*DNN, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model: %w", err)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("error reading network model from: %v", modelPath)
	}
	return &DNN{net: net}, nil
}

func (d *DNN) Infer(ctx context.Context, batch [][]float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := flatten(batch)
	if err != nil {
		return nil, err
	}

	blob, err := gocv.NewMatWithSizesFromBytes(
		[]int{len(batch), 3, types.CropSize, types.CropSize}, gocv.MatTypeCV32F, float32Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build input blob: %w", err)
	}
	defer blob.Close()

	d.net.SetInput(blob, "")
	prob := d.net.Forward("")
	defer prob.Close()

	if prob.Rows() != len(batch) || prob.Cols() != numClasses {
		return nil, fmt.Errorf("model returned %dx%d for %d crops", prob.Rows(), prob.Cols(), len(batch))
	}
	out := make([][]float32, len(batch))
	for i := range out {
		out[i] = []float32{prob.GetFloatAt(i, 0), prob.GetFloatAt(i, 1)}
	}
	return out, nil
}

func (d *DNN) Close() error {
	return d.net.Close()
}

// float32Bytes lays out data in native (little endian) float order.
func float32Bytes(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
