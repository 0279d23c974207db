// Package cmd holds the maskguard command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/maskguard/internal/classifier"
	"github.com/andresmejia3/maskguard/internal/detector"
	"github.com/andresmejia3/maskguard/internal/log"
	"github.com/andresmejia3/maskguard/internal/pipeline"
	"github.com/andresmejia3/maskguard/internal/stream"
	"github.com/andresmejia3/maskguard/internal/types"
	"github.com/andresmejia3/maskguard/internal/utils"
	"github.com/andresmejia3/maskguard/internal/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds shared configuration for the image, video, live and run commands
type Options struct {
	Detector        string
	DetectorModel   string
	Puploc          string
	Classifier      string
	ClassifierModel string
	OnnxLibrary     string
	WorkerScript    string
	WorkerTimeout   string
	Backend         string
	LogLevel        string
	LogFile         string
}

var (
	opts Options

	// Detector and Classifier are built once per invocation in PersistentPreRunE
	Detector   types.Detector
	Classifier types.Classifier
)

// envPrefix maps a flag like --detector-model to MASKGUARD_DETECTOR_MODEL.
const envPrefix = "MASKGUARD_"

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "maskguard",
	Short:   "Face mask detection for images, video files and cameras",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// help only prints usage, it must work without models
		if cmd.Name() == "help" {
			return nil
		}

		// A .env file is optional
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		if err := applyEnv(cmd.Flags()); err != nil {
			return err
		}
		if err := validateOptions(&opts); err != nil {
			return err
		}
		if err := log.Setup(log.Config{Level: opts.LogLevel, File: opts.LogFile}); err != nil {
			return err
		}

		var err error
		Detector, Classifier, err = buildCapabilities(cmd.Context(), opts)
		if err != nil {
			utils.ShowError("Failed to load models", err, nil)
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// The command context may already be cancelled (Ctrl+C); closing does not depend on it.
		if Classifier != nil {
			Classifier.Close()
		}
		if Detector != nil {
			Detector.Close()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Completion would load models through PersistentPreRunE
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.Detector, "detector", "yunet", "Face detector: yunet, pigo, worker")
	f.StringVar(&opts.DetectorModel, "detector-model", "models/face_detection_yunet_2023mar.onnx", "YuNet model, or the facefinder cascade for pigo")
	f.StringVar(&opts.Puploc, "puploc", "models/puploc", "Pupil localization cascade (pigo only)")
	f.StringVar(&opts.Classifier, "classifier", "onnx", "Mask classifier: onnx, dnn, worker")
	f.StringVar(&opts.ClassifierModel, "classifier-model", "models/mask_detector.onnx", "Mask classifier ONNX model")
	f.StringVar(&opts.OnnxLibrary, "onnx-lib", "", "Path to the onnxruntime shared library")
	f.StringVar(&opts.WorkerScript, "worker-script", "python/worker.py", "Python worker script")
	f.StringVar(&opts.WorkerTimeout, "worker-timeout", "30s", "Timeout for the worker to answer a single request")
	f.StringVar(&opts.Backend, "backend", "opencv", "Video file backend: opencv, ffmpeg")
	f.StringVar(&opts.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	f.StringVar(&opts.LogFile, "log-file", "", "Also write logs to this rotating file")
}

// applyEnv fills every flag the user did not set from MASKGUARD_* variables.
func applyEnv(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(key); ok {
			if serr := f.Value.Set(v); serr != nil {
				err = fmt.Errorf("invalid %s=%q: %w", key, v, serr)
			}
		}
	})
	return err
}

func validateOptions(opts *Options) error {
	if opts.Detector != "yunet" && opts.Detector != "pigo" && opts.Detector != "worker" {
		err := fmt.Errorf("invalid detector '%s'. Must be one of: yunet, pigo, worker", opts.Detector)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.Classifier != "onnx" && opts.Classifier != "dnn" && opts.Classifier != "worker" {
		err := fmt.Errorf("invalid classifier '%s'. Must be one of: onnx, dnn, worker", opts.Classifier)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if opts.Backend != "opencv" && opts.Backend != "ffmpeg" {
		err := fmt.Errorf("invalid backend '%s'. Must be 'opencv' or 'ffmpeg'", opts.Backend)
		utils.ShowError("Configuration Error", err, nil)
		return err
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		utils.ShowError("Invalid worker-timeout format (use '30s', '1m')", err, nil)
		return err
	}
	return nil
}

// buildCapabilities loads the selected detector and classifier. Both roles
// share one Python process when both are "worker".
func buildCapabilities(ctx context.Context, opts Options) (types.Detector, types.Classifier, error) {
	var py *worker.PythonWorker
	startWorker := func() (*worker.PythonWorker, error) {
		if py != nil {
			return py, nil
		}
		timeout, _ := time.ParseDuration(opts.WorkerTimeout)
		fmt.Fprintln(os.Stderr, "🚀 Warming up Python worker...")
		w, err := worker.NewPythonWorker(ctx, worker.Config{Script: opts.WorkerScript, ReadTimeout: timeout})
		py = w
		return w, err
	}

	var det types.Detector
	var err error
	switch opts.Detector {
	case "yunet":
		det, err = detector.NewYuNet(opts.DetectorModel, 0)
	case "pigo":
		det, err = detector.NewPigo(opts.DetectorModel, opts.Puploc)
	case "worker":
		det, err = startWorker()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("detector %s: %w", opts.Detector, err)
	}

	var cls types.Classifier
	switch opts.Classifier {
	case "onnx":
		cls, err = classifier.NewONNX(classifier.ONNXConfig{ModelPath: opts.ClassifierModel, LibraryPath: opts.OnnxLibrary})
	case "dnn":
		cls, err = classifier.NewDNN(opts.ClassifierModel)
	case "worker":
		cls, err = startWorker()
	}
	if err != nil {
		det.Close()
		return nil, nil, fmt.Errorf("classifier %s: %w", opts.Classifier, err)
	}
	return det, cls, nil
}

// reportFailure shows err in a box. A crashed Python worker cannot serve
// another request, so that case ends the process like any worker crash.
func reportFailure(context string, err error) {
	if errors.Is(err, worker.ErrWorkerCrashed) {
		utils.Die("Python crashed", err, nil)
	}
	utils.ShowError(context, err, nil)
}

func newPipeline() *pipeline.Pipeline {
	return pipeline.New(Detector, Classifier)
}

func newBackend(name string) stream.Backend {
	if name == "ffmpeg" {
		return stream.FFmpeg{}
	}
	return stream.OpenCV{}
}
