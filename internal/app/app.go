// Package app assembles gordon-go components from settings.
package app

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/gordon-go/internal/api"
	"github.com/tphakala/gordon-go/internal/buildinfo"
	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/conf"
	"github.com/tphakala/gordon-go/internal/datastore"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/mqtt"
	"github.com/tphakala/gordon-go/internal/notify"
	"github.com/tphakala/gordon-go/internal/observability"
	"github.com/tphakala/gordon-go/internal/quotes"
	"github.com/tphakala/gordon-go/internal/session"
	"github.com/tphakala/gordon-go/internal/telemetry"
)

const (
	mqttConnectTimeout = 10 * time.Second
	cleanupTimeout     = 10 * time.Second
)

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// InitLogging installs the central logger described by settings. The
// returned function flushes and closes it.
func InitLogging(settings *conf.Settings) (func(), error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LevelDebug)
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = string(logger.LevelDebug)
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logging").
			Build()
	}
	logger.SetGlobal(cl)
	return func() { _ = cl.Close() }, nil
}

// App holds the wired components. Fields are nil when the matching feature
// is disabled.
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	HTTP      *httpclient.Client
	Store     *category.Store
	Gateway   *classifier.Gateway
	Pipeline  *capture.Pipeline
	Capture   *capture.Manager
	Narrator  session.Narrator
	Scheduler *session.Scheduler
	Generator quotes.Generator
	DB        datastore.Interface
	Recorder  *datastore.Recorder
	MQTT      mqtt.Client
	Notifier  *notify.Notifier

	log       logger.Logger
	telemetry bool
}

// New builds every component. On error the partially built App is closed.
func New(ctx context.Context, settings *conf.Settings) (a *App, err error) {
	a = &App{Settings: settings, log: GetLogger()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
			a = nil
		}
	}()

	if a.telemetry, err = telemetry.InitSentry(settings, buildinfo.Version); err != nil {
		return a, err
	}
	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return a, err
	}
	a.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Classifier.Timeout,
		UserAgent:      buildinfo.UserAgent(),
	})

	if a.Notifier, err = NewNotifier(settings); err != nil {
		return a, err
	}
	if a.Gateway, err = NewGateway(settings, a.HTTP, a.Metrics); err != nil {
		return a, err
	}
	if a.Store, err = NewStore(settings, afero.NewOsFs(), a.Metrics); err != nil {
		return a, err
	}
	if err = a.openDatastore(); err != nil {
		return a, err
	}
	if err = a.connectMQTT(ctx); err != nil {
		return a, err
	}

	src, err := NewSource(settings, a.HTTP)
	if err != nil {
		return a, err
	}
	var pubs []capture.Publisher
	if a.Recorder != nil {
		pubs = append(pubs, a.Recorder)
	}
	if a.MQTT != nil {
		pubs = append(pubs, mqtt.NewPublisher(a.MQTT, settings.MQTT.Topic))
	}
	a.Pipeline = capture.NewPipeline(a.Gateway, a.Store,
		capture.WithPublishers(pubs...),
		capture.WithPipelineMetrics(a.Metrics.Capture))

	a.Capture, err = capture.NewManager(src, CaptureConfig(settings), a.Pipeline,
		capture.WithManagerMetrics(a.Metrics.Capture),
		capture.WithOnFatal(a.Notifier.CaptureFatal))
	if err != nil {
		return a, err
	}

	if a.Narrator, err = NewNarrator(settings); err != nil {
		return a, err
	}
	a.Scheduler = NewScheduler(a.Narrator, a.Metrics, a.Recorder)

	if a.Generator, err = NewGenerator(settings); err != nil {
		return a, err
	}

	a.log.Info("components initialized",
		logger.String("source", settings.Capture.Source),
		logger.Bool("narration", settings.Narration.Enabled),
		logger.Bool("datastore", a.DB != nil),
		logger.Bool("mqtt", a.MQTT != nil),
		logger.Bool("telemetry", a.telemetry))
	return a, nil
}

func (a *App) openDatastore() error {
	db := datastore.New(a.Settings, datastore.WithMetrics(a.Metrics.Datastore))
	if db == nil {
		return nil
	}
	if err := db.Open(); err != nil {
		return err
	}
	a.DB = db
	a.Recorder = datastore.NewRecorder(db)
	return nil
}

func (a *App) connectMQTT(ctx context.Context) error {
	if !a.Settings.MQTT.Enabled {
		return nil
	}
	client, err := mqtt.NewClient(mqtt.ConfigFromSettings(a.Settings), mqtt.WithMetrics(a.Metrics.MQTT))
	if err != nil {
		return err
	}
	a.MQTT = client

	ctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		// paho keeps retrying in the background once the first attempt
		// has been made; publishing resumes when it succeeds.
		a.log.Warn("mqtt broker unreachable at startup", logger.Error(err))
	}
	return nil
}

// Server builds the HTTP control surface over the wired components.
func (a *App) Server() (*api.Server, error) {
	opts := []api.ServerOption{
		api.WithCapture(a.Capture),
		api.WithSessions(a.Scheduler),
		api.WithCategories(a.Store),
		api.WithGenerator(a.Generator),
		api.WithMetricsHandler(a.Metrics.Handler()),
		api.WithTTSEnabled(a.Settings.Narration.Enabled),
	}
	if a.DB != nil {
		opts = append(opts, api.WithHistory(a.DB))
	}
	return api.New(api.ConfigFromSettings(a.Settings), opts...)
}

// Close stops capture and sessions and releases every component. It is
// safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	if a.Capture != nil {
		if err := a.Capture.Stop(ctx); err != nil {
			a.log.Warn("capture stop failed", logger.Error(err))
		}
	}
	switch {
	case a.Scheduler != nil:
		// CleanupAll closes the narrator.
		if err := a.Scheduler.CleanupAll(ctx); err != nil {
			a.log.Warn("session cleanup incomplete", logger.Error(err))
		}
	case a.Narrator != nil:
		_ = a.Narrator.Close()
	}
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn("datastore close failed", logger.Error(err))
		}
	}
	if a.telemetry {
		telemetry.Flush()
	}
}
