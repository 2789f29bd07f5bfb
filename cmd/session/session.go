package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/quotes"
	sched "github.com/tphakala/gordon-go/internal/session"
)

// Timeline is a recipe file. It lists either recipe steps, for which lines
// are generated, or ready-made quotes.
type Timeline struct {
	Steps  []quotes.Step      `yaml:"steps"`
	Quotes []sched.QuoteEvent `yaml:"quotes"`
}

// Command creates the session command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Work with narration sessions",
	}
	cmd.AddCommand(playCommand(settings))
	return cmd
}

func playCommand(settings *conf.Settings) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "play <timeline.yaml>",
		Short: "Narrate a recipe timeline in real time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tl, err := LoadTimeline(args[0])
			if err != nil {
				return err
			}
			events, err := resolveQuotes(ctx, settings, tl)
			if err != nil {
				return err
			}
			if printOnly {
				printQuotes(cmd.OutOrStdout(), events)
				return nil
			}
			return play(ctx, settings, events)
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the narration lines instead of playing them")
	return cmd
}

// LoadTimeline reads a YAML timeline file.
func LoadTimeline(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	var tl Timeline
	if err := yaml.Unmarshal(data, &tl); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	if len(tl.Steps) == 0 && len(tl.Quotes) == 0 {
		return nil, errors.Newf("timeline %s has no steps or quotes", path).
			Component("session").
			Category(errors.CategoryValidation).
			Build()
	}
	return &tl, nil
}

func resolveQuotes(ctx context.Context, settings *conf.Settings, tl *Timeline) ([]sched.QuoteEvent, error) {
	if len(tl.Quotes) > 0 {
		return tl.Quotes, nil
	}
	gen, err := app.NewGenerator(settings)
	if err != nil {
		return nil, err
	}
	return gen.Generate(ctx, tl.Steps)
}

func printQuotes(w io.Writer, events []sched.QuoteEvent) {
	for _, ev := range events {
		fmt.Fprintf(w, "%8s  %s\n", ev.Delay().Round(time.Second), ev.Text)
	}
}

func play(ctx context.Context, settings *conf.Settings, events []sched.QuoteEvent) error {
	narrator, err := app.NewNarrator(settings)
	if err != nil {
		return err
	}
	scheduler := app.NewScheduler(narrator, nil, nil)
	defer scheduler.CleanupAll(context.WithoutCancel(ctx))

	id := "session_" + uuid.NewString()
	if _, err := scheduler.StartSession(id, events, time.Now()); err != nil {
		return err
	}
	done := scheduler.Done(id)

	select {
	case <-done:
	case <-ctx.Done():
		scheduler.StopSession(id)
		<-done
	}
	return nil
}
