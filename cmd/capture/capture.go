package capture

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/conf"
)

// Command creates the capture command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture and file frames in the foreground",
		Long:  "Run the capture loop without the API until interrupted or until the source is exhausted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, settings)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("source", viper.GetString("capture.source"), "Frame source (\"ffmpeg\" or \"snapshot\")")
	cmd.Flags().String("device", viper.GetString("capture.device"), "ffmpeg input device or stream url")
	cmd.Flags().Duration("interval", viper.GetDuration("capture.interval"), "Time between captured frames")

	for key, flag := range map[string]string{
		"capture.source":   "source",
		"capture.device":   "device",
		"capture.interval": "interval",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

func run(ctx context.Context, cmd *cobra.Command, settings *conf.Settings) error {
	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if _, err := a.Capture.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if err := a.Capture.Stop(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	case <-a.Capture.Done():
	}

	status := a.Capture.Status()
	outcomes := a.Pipeline.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "captured %d frames (%d read failures, %d reacquires)\n",
		status.Stats.Captured, status.Stats.ReadFailures, status.Stats.Reacquires)
	fmt.Fprintf(out, "accepted %d, discarded %d, dropped %d, failed %d\n",
		outcomes.Accepted, outcomes.Discarded, outcomes.Dropped, outcomes.Failed)

	if status.LastError != "" {
		return fmt.Errorf("capture stopped: %s", status.LastError)
	}
	return nil
}
