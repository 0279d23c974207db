package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/maskguard/internal/stream"
	"github.com/spf13/cobra"
)

// Mode is what the run command does with a path.
type Mode int

const (
	ModeImage Mode = iota
	ModeVideo
)

// DispatchMode picks video mode for .mp4 files and image mode for anything else.
func DispatchMode(path string) Mode {
	if filepath.Ext(path) == ".mp4" {
		return ModeVideo
	}
	return ModeImage
}

var runOutput string

var runCmd = &cobra.Command{
	Use:   "run <path>",
	Short: "Process a path as a video (.mp4) or an image (anything else)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path := args[0]

		var err error
		if DispatchMode(path) == ModeVideo {
			err = runVideo(cmd.Context(), path, runOutput)
		} else {
			err = runImage(cmd.Context(), path, "", true)
		}

		// An unopenable source was already reported; the shell keeps going.
		if errors.Is(err, stream.ErrOpenSource) {
			fmt.Fprintln(os.Stderr, "Error opening video stream or file")
			return nil
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "output", "Output name for videos, .avi is appended")
	rootCmd.AddCommand(runCmd)
}
