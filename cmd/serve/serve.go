package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/logger"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		Long:  "Serve the session and category API. Capture starts on request, or immediately with --autostart.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().String("listen", viper.GetString("webserver.listen"), "Listen address of the HTTP API")
	cmd.Flags().Bool("autostart", viper.GetBool("capture.autostart"), "Start capturing immediately")

	if err := viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if err := viper.BindPFlag("capture.autostart", cmd.Flags().Lookup("autostart")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	a, err := app.New(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	g, ctx := errgroup.WithContext(ctx)

	if settings.WebServer.Enabled {
		srv, err := a.Server()
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	if settings.Capture.AutoStart {
		if _, err := a.Capture.Start(ctx); err != nil {
			return err
		}
	}

	log.Info("gordon-go running",
		logger.Bool("api", settings.WebServer.Enabled),
		logger.Bool("autostart", settings.Capture.AutoStart))

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return nil
	})
	return g.Wait()
}
