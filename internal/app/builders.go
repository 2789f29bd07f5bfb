package app

import (
	"strings"

	"github.com/spf13/afero"

	"github.com/tphakala/gordon-go/internal/buildinfo"
	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/datastore"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
	"github.com/tphakala/gordon-go/internal/narration"
	"github.com/tphakala/gordon-go/internal/notify"
	"github.com/tphakala/gordon-go/internal/observability"
	"github.com/tphakala/gordon-go/internal/quotes"
	"github.com/tphakala/gordon-go/internal/session"
)

// NewGateway builds the classification gateway for the configured provider.
func NewGateway(settings *conf.Settings, http *httpclient.Client, m *observability.Metrics) (*classifier.Gateway, error) {
	cs := settings.Classifier
	if p := strings.ToLower(cs.Provider); p != "" && p != "cohere" {
		return nil, unsupported("classifier", "provider", cs.Provider)
	}
	client, err := classifier.NewCohereClient(http, classifier.CohereConfig{
		APIKey:   cs.APIKey,
		Endpoint: cs.Endpoint,
		Model:    cs.Model,
		Labels:   cs.Labels,
	})
	if err != nil {
		return nil, err
	}
	opts := []classifier.GatewayOption{}
	if m != nil {
		opts = append(opts, classifier.WithMetrics(m.Classifier))
	}
	return classifier.NewGateway(client, classifier.GatewayConfig{
		MaxRetries:   cs.MaxRetries,
		InitialDelay: cs.RetryDelay,
		MaxDelay:     cs.MaxRetryDelay,
		RateLimit:    cs.RateLimit,
	}, opts...)
}

// NewStore builds the category store on fs and loads what is already on
// disk.
func NewStore(settings *conf.Settings, fs afero.Fs, m *observability.Metrics) (*category.Store, error) {
	opts := []category.Option{}
	if m != nil {
		opts = append(opts, category.WithMetrics(m.Category))
	}
	store, err := category.New(fs, category.Config{
		Root:            settings.Categories.Path,
		Labels:          settings.Classifier.Labels,
		AcceptThreshold: settings.Classifier.AcceptThreshold,
		MaxEntries:      settings.Categories.MaxEntries,
		Overrides:       settings.Categories.Overrides,
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewSource builds the configured frame source.
func NewSource(settings *conf.Settings, http *httpclient.Client) (capture.Source, error) {
	cs := settings.Capture
	switch strings.ToLower(cs.Source) {
	case "", "ffmpeg":
		path, err := conf.ResolveBinary(cs.FfmpegPath, "ffmpeg")
		if err != nil {
			return nil, err
		}
		return capture.NewFFmpegSource(capture.FFmpegConfig{
			Path:        path,
			Device:      cs.Device,
			InputFormat: cs.InputFormat,
			FrameRate:   cs.FrameRate,
			MaxWidth:    cs.MaxWidth,
		})
	case "snapshot":
		return capture.NewSnapshotSource(http, cs.SnapshotURL)
	default:
		return nil, unsupported("capture", "source", cs.Source)
	}
}

// CaptureConfig derives the capture loop configuration.
func CaptureConfig(settings *conf.Settings) capture.Config {
	cs := settings.Capture
	return capture.Config{
		Interval:            cs.Interval,
		MaxReacquireRetries: cs.MaxReacquireRetries,
		ReacquireDelay:      cs.ReacquireDelay,
		ReadTimeout:         cs.ReadTimeout,
		MIMEType:            "image/jpeg",
	}
}

// NewNarrator returns the speech narrator, or a logging narrator when
// narration is disabled.
func NewNarrator(settings *conf.Settings) (session.Narrator, error) {
	ns := settings.Narration
	if !ns.Enabled {
		return narration.NewLogNarrator(nil), nil
	}
	if p := strings.ToLower(ns.Provider); p != "" && p != "elevenlabs" {
		return nil, unsupported("narration", "provider", ns.Provider)
	}

	http := httpclient.New(&httpclient.Config{DefaultTimeout: ns.Timeout, UserAgent: buildinfo.UserAgent()})
	synth, err := narration.NewElevenLabs(http, narration.ElevenLabsConfig{
		APIKey:     ns.APIKey,
		Endpoint:   ns.Endpoint,
		VoiceID:    ns.VoiceID,
		ModelID:    ns.ModelID,
		SampleRate: ns.SampleRate,
		Stability:  ns.Stability,
		Similarity: ns.Similarity,
	})
	if err != nil {
		return nil, err
	}

	var player narration.Player
	if ns.Playback {
		p, err := narration.NewMalgoPlayer()
		if err != nil {
			return nil, err
		}
		player = p
	}
	client, err := narration.NewClient(synth, player, narration.Config{
		TempDir:   ns.TempDir,
		KeepAudio: ns.KeepAudio,
	})
	if err != nil {
		if player != nil {
			_ = player.Close()
		}
		return nil, err
	}
	return client, nil
}

// NewScheduler builds the session scheduler. Finished sessions are
// recorded when rec is not nil.
func NewScheduler(narrator session.Narrator, m *observability.Metrics, rec *datastore.Recorder) *session.Scheduler {
	opts := []session.Option{}
	if m != nil {
		opts = append(opts, session.WithMetrics(m.Session))
	}
	if rec != nil {
		opts = append(opts, session.WithOnTerminated(rec.RecordSession))
	}
	return session.NewScheduler(narrator, opts...)
}

// NewGenerator returns the quote generator. Model output falls back to
// canned lines.
func NewGenerator(settings *conf.Settings) (quotes.Generator, error) {
	qs := settings.Quotes
	template := quotes.TemplateGenerator{FirstQuoteOffset: qs.FirstQuoteOffset}
	switch strings.ToLower(qs.Provider) {
	case "template":
		return template, nil
	case "", "cohere":
		http := httpclient.New(&httpclient.Config{DefaultTimeout: qs.Timeout, UserAgent: buildinfo.UserAgent()})
		gen, err := quotes.NewCohereGenerator(http, quotes.CohereConfig{
			APIKey:           settings.Classifier.APIKey,
			Endpoint:         settings.Classifier.Endpoint,
			Model:            qs.Model,
			FirstQuoteOffset: qs.FirstQuoteOffset,
		})
		if err != nil {
			return nil, err
		}
		return quotes.Fallback(gen, template), nil
	default:
		return nil, unsupported("quotes", "provider", qs.Provider)
	}
}

// NewNotifier returns nil when notifications are disabled.
func NewNotifier(settings *conf.Settings) (*notify.Notifier, error) {
	if !settings.Notify.Enabled || len(settings.Notify.URLs) == 0 {
		return nil, nil
	}
	return notify.New(settings.Notify.URLs)
}

func unsupported(component, key, value string) error {
	return errors.Newf("unsupported %s %s %q", component, key, value).
		Component(component).
		Category(errors.CategoryConfiguration).
		Build()
}
