package cmd

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silenceStderr discards the error boxes printed during a test.
func silenceStderr(t *testing.T) {
	t.Helper()
	oldStderr := os.Stderr
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)
	os.Stderr = devNull
	t.Cleanup(func() {
		os.Stderr = oldStderr
		devNull.Close()
	})
}

func TestDispatchMode(t *testing.T) {
	tests := []struct {
		path string
		want Mode
	}{
		{"clip.mp4", ModeVideo},
		{"/videos/a.b.mp4", ModeVideo},
		{"clip.MP4", ModeImage},
		{"clip.avi", ModeImage},
		{"face.jpg", ModeImage},
		{"mp4", ModeImage},
		{"noext", ModeImage},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DispatchMode(tt.path), tt.path)
	}
}

func TestValidateOptions(t *testing.T) {
	valid := Options{Detector: "yunet", Classifier: "onnx", Backend: "opencv", WorkerTimeout: "30s"}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"Valid options", func(o *Options) {}, false},
		{"Pigo with dnn and ffmpeg", func(o *Options) { o.Detector, o.Classifier, o.Backend = "pigo", "dnn", "ffmpeg" }, false},
		{"Worker for both roles", func(o *Options) { o.Detector, o.Classifier = "worker", "worker" }, false},
		{"Unknown detector", func(o *Options) { o.Detector = "haar" }, true},
		{"Unknown classifier", func(o *Options) { o.Classifier = "tflite" }, true},
		{"Unknown backend", func(o *Options) { o.Backend = "gstreamer" }, true},
		{"Invalid worker timeout", func(o *Options) { o.WorkerTimeout = "soon" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			silenceStderr(t)

			o := valid
			tt.mutate(&o)
			if err := validateOptions(&o); (err != nil) != tt.wantErr {
				t.Errorf("validateOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	var o Options
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringVar(&o.Detector, "detector", "yunet", "")
	flags.StringVar(&o.ClassifierModel, "classifier-model", "default.onnx", "")
	flags.StringVar(&o.Backend, "backend", "opencv", "")
	var device int
	flags.IntVar(&device, "device", 0, "")

	require.NoError(t, flags.Parse([]string{"--backend", "ffmpeg"}))

	t.Setenv("MASKGUARD_DETECTOR", "pigo")
	t.Setenv("MASKGUARD_CLASSIFIER_MODEL", "/models/mask.onnx")
	t.Setenv("MASKGUARD_BACKEND", "opencv")

	require.NoError(t, applyEnv(flags))
	assert.Equal(t, "pigo", o.Detector)
	assert.Equal(t, "/models/mask.onnx", o.ClassifierModel)
	assert.Equal(t, "ffmpeg", o.Backend, "explicit flags win over the environment")

	t.Setenv("MASKGUARD_DEVICE", "front")
	assert.Error(t, applyEnv(flags))
}

func TestValidateInput(t *testing.T) {
	silenceStderr(t)

	tmpFile, err := os.CreateTemp("", "clip.mp4")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	assert.NoError(t, validateInput(tmpFile.Name()))
	assert.Error(t, validateInput("nonexistent.mp4"))
	assert.Error(t, validateInput(t.TempDir()))
}

func TestRunLive_RejectsNegativeDevice(t *testing.T) {
	silenceStderr(t)
	assert.Error(t, runLive(t.Context(), -1))
}

func TestHelp_SkipsModelLoading(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"help", "video"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "video <path>")
	assert.Nil(t, Detector)
	assert.Nil(t, Classifier)
}

func TestReportFailure_ShowsRegularErrors(t *testing.T) {
	silenceStderr(t)
	// Returns instead of exiting for anything but a worker crash.
	reportFailure("Video processing failed", errors.New("decode error"))
}
