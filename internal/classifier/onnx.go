package classifier

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/andresmejia3/maskguard/internal/types"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the model and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string // empty picks the platform default
	InputName   string
	OutputName  string
}

// ONNX runs the mask model through onnxruntime. Batches of any size go
// through a dynamic session.
type ONNX struct {
	session *ort.DynamicAdvancedSession
	ownsEnv bool
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// NewONNX loads the model and, if needed, the onnxruntime environment.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx model: %w", err)
	}
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = defaultLibraryPath()
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
		ownsEnv = true
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		if ownsEnv {
			ort.DestroyEnvironment()
		}
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNX{session: session, ownsEnv: ownsEnv}, nil
}

func (o *ONNX) Infer(ctx context.Context, batch [][]float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := flatten(batch)
	if err != nil {
		return nil, err
	}

	n := int64(len(batch))
	input, err := ort.NewTensor(ort.NewShape(n, 3, types.CropSize, types.CropSize), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(n, numClasses))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	if err := o.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	return splitLogits(output.GetData(), len(batch))
}

func (o *ONNX) Close() error {
	err := o.session.Destroy()
	if o.ownsEnv {
		if derr := ort.DestroyEnvironment(); err == nil {
			err = derr
		}
	}
	return err
}
