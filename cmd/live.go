package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/maskguard/internal/stream"
	"github.com/andresmejia3/maskguard/internal/utils"
	"github.com/spf13/cobra"
)

var liveDevice int

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Annotate a camera feed in a window (press q to quit)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLive(cmd.Context(), liveDevice)
	},
}

func init() {
	liveCmd.Flags().IntVarP(&liveDevice, "device", "d", 0, "Camera device index")
	rootCmd.AddCommand(liveCmd)
}

func runLive(ctx context.Context, device int) error {
	if device < 0 {
		err := fmt.Errorf("must be >= 0, got %d", device)
		utils.ShowError("Invalid camera device", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "🎥 Opening camera %d, press q to quit\n", device)
	c := stream.NewController(stream.Config{Mode: stream.ModeLive, Device: device}, newBackend(opts.Backend), newPipeline())
	if _, err := c.Run(ctx); err != nil {
		reportFailure("Live stream failed", err)
		return err
	}
	fmt.Fprintf(os.Stderr, "👋 Showed %d frames\n", c.Frames())
	return nil
}
