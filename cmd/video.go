package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/maskguard/internal/stream"
	"github.com/spf13/cobra"
)

var videoOutput string

var videoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Annotate every frame of a video file into <output>.avi",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runVideo(cmd.Context(), args[0], videoOutput)
	},
}

func init() {
	videoCmd.Flags().StringVarP(&videoOutput, "output", "o", "output", "Output name, .avi is appended")
	rootCmd.AddCommand(videoCmd)
}

func runVideo(ctx context.Context, path, output string) error {
	if err := validateInput(path); err != nil {
		return err
	}

	cfg := stream.Config{Mode: stream.ModeFile, Input: path, Output: output, Progress: true}

	// Refuse to overwrite the input, the encoder would truncate it while it is being read
	inAbs, _ := filepath.Abs(path)
	outAbs, _ := filepath.Abs(cfg.OutputPath())
	if inAbs == outAbs {
		return fmt.Errorf("input and output paths must be different to prevent file corruption")
	}

	fmt.Fprintf(os.Stderr, "📼 Processing %s -> %s\n", path, cfg.OutputPath())
	c := stream.NewController(cfg, newBackend(opts.Backend), newPipeline())
	if _, err := c.Run(ctx); err != nil {
		reportFailure("Video processing failed", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ Wrote %d frames to %s\n", c.Frames(), cfg.OutputPath())
	return nil
}
