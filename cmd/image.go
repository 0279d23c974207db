package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/maskguard/internal/annotate"
	"github.com/andresmejia3/maskguard/internal/imageio"
	"github.com/andresmejia3/maskguard/internal/utils"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var (
	imageOut       string
	imageNoDisplay bool
)

var imageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Annotate a single image and show it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runImage(cmd.Context(), args[0], imageOut, !imageNoDisplay)
	},
}

func init() {
	imageCmd.Flags().StringVarP(&imageOut, "out", "o", "", "Also write the annotated image to this path")
	imageCmd.Flags().BoolVar(&imageNoDisplay, "no-display", false, "Do not open a window (requires --out)")
	rootCmd.AddCommand(imageCmd)
}

func runImage(ctx context.Context, path, out string, display bool) error {
	if err := validateInput(path); err != nil {
		return err
	}
	if !display && out == "" {
		err := fmt.Errorf("--no-display without --out produces nothing")
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	frame, err := imageio.Load(path)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}
	defer frame.Close()

	annotated, err := newPipeline().Process(ctx, frame, false)
	if err != nil {
		reportFailure("Mask detection failed", err)
		return err
	}
	defer annotated.Close()

	// The pipeline hands back swapped channels; swap again for viewing.
	result := annotate.SwapChannels(annotated)
	defer result.Close()

	if out != "" {
		if err := imageio.Save(out, result); err != nil {
			utils.ShowError("Failed to write image", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "💾 Saved %s\n", out)
	}

	if display {
		window := gocv.NewWindow("Model output")
		defer window.Close()
		window.IMShow(result)
		window.WaitKey(0)
	}
	return nil
}

// validateInput checks that path is a readable file.
func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("is a directory")
		utils.ShowError("Input path is a directory, expected a file", err, nil)
		return err
	}
	return nil
}
