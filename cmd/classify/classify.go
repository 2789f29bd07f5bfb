package classify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/httpclient"
)

// Command creates the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "classify <image> [image...]",
		Short: "Classify image files and file them by label",
		Long:  "Send each image through the classifier and route it into the category store, as if it had been captured.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), settings, args, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify without storing the images")
	return cmd
}

type printer struct {
	out  io.Writer
	name string
}

func (p *printer) Publish(_ context.Context, res category.RouteResult) error {
	switch res.Outcome {
	case category.Accepted:
		fmt.Fprintf(p.out, "%s: %s (%.2f) stored as %s\n", p.name, res.Label, res.Confidence, res.Entry.Name)
		for _, e := range res.Evicted {
			fmt.Fprintf(p.out, "  evicted %s/%s\n", e.Label, e.Name)
		}
	default:
		fmt.Fprintf(p.out, "%s: discarded, %s (%s %.2f)\n", p.name, res.Reason, res.Label, res.Confidence)
	}
	return nil
}

func run(ctx context.Context, out io.Writer, settings *conf.Settings, files []string, dryRun bool) error {
	client := httpclient.New(&httpclient.Config{DefaultTimeout: settings.Classifier.Timeout})
	gateway, err := app.NewGateway(settings, client, nil)
	if err != nil {
		return err
	}

	var fs afero.Fs = afero.NewOsFs()
	if dryRun {
		fs = afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(fs), afero.NewMemMapFs())
	}
	store, err := app.NewStore(settings, fs, nil)
	if err != nil {
		return err
	}

	p := &printer{out: out}
	pipeline := capture.NewPipeline(gateway, store, capture.WithPublishers(p))

	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		p.name = name
		frame := capture.Frame{
			Data:       data,
			CapturedAt: time.Now(),
			MIMEType:   http.DetectContentType(data),
		}
		if err := pipeline.HandleFrame(ctx, frame); err != nil {
			fmt.Fprintf(out, "%s: classification failed: %v\n", name, err)
		}
	}
	return nil
}
