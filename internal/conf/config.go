// config.go: settings struct and loading for gordon-go.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// CaptureSettings configures the frame source and the capture loop.
type CaptureSettings struct {
	AutoStart           bool          // start capturing when the server starts
	Source              string        // "ffmpeg" or "snapshot"
	Device              string        // ffmpeg input, e.g. /dev/video0 or an rtsp:// url
	InputFormat         string        // ffmpeg -f value, e.g. v4l2 or avfoundation; empty to autodetect
	FfmpegPath          string        // path to ffmpeg binary
	SnapshotURL         string        // still image url for the snapshot source
	FrameRate           float64       // frames per second requested from ffmpeg
	MaxWidth            int           // frames are scaled down to this width, 0 keeps native size
	Interval            time.Duration // time between captured frames
	MaxReacquireRetries int           // consecutive reacquire attempts before the loop gives up
	ReacquireDelay      time.Duration // initial delay between reacquire attempts, doubles per attempt
	ReadTimeout         time.Duration // max wait for a single frame
}

// ClassifierSettings configures the classification gateway.
type ClassifierSettings struct {
	Provider        string        // "cohere"
	APIKey          string        // provider api key
	Endpoint        string        // provider base url
	Model           string        // vision model name
	Labels          []string      // known label set
	AcceptThreshold float64       // minimum confidence for a frame to be stored
	MaxRetries      int           // attempts per frame, including the first
	RetryDelay      time.Duration // delay before the second attempt
	MaxRetryDelay   time.Duration // cap for the exponential backoff
	Timeout         time.Duration // per-request timeout
	RateLimit       float64       // outbound requests per second, 0 disables limiting
}

// CategorySettings configures the bounded per-label store.
type CategorySettings struct {
	Path       string         // root directory, one subdirectory per label
	MaxEntries int            // default cap for every label
	Overrides  map[string]int // per-label caps
}

// NarrationSettings configures speech synthesis and playback.
type NarrationSettings struct {
	Enabled    bool          // false logs narration lines instead of speaking them
	Provider   string        // "elevenlabs"
	APIKey     string        // provider api key
	Endpoint   string        // provider base url
	VoiceID    string        // voice to synthesize with
	ModelID    string        // synthesis model
	SampleRate int           // pcm sample rate requested from the provider
	Stability  float64       // voice stability
	Similarity float64       // voice similarity boost
	Timeout    time.Duration // per-request timeout
	TempDir    string        // directory for utterance wav files
	KeepAudio  bool          // keep wav files after playback
	Playback   bool          // false synthesizes and writes wav files without playing them
}

// QuoteSettings configures narration text generation.
type QuoteSettings struct {
	Provider         string        // "cohere" or "template"
	Model            string        // chat model for quote generation
	FirstQuoteOffset time.Duration // offset of the opening line when the timeline starts at zero
	Timeout          time.Duration // per-request timeout
}

// WebServerSettings configures the HTTP control surface.
type WebServerSettings struct {
	Enabled       bool          // serve the API
	Listen        string        // listen address, e.g. :8080
	StatsCacheTTL time.Duration // cache lifetime for category stats
	RateLimit     float64       // API requests per second per client, 0 disables
}

// SQLiteSettings configures the sqlite datastore.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings configures the mysql datastore.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects where routing outcomes and sessions are recorded.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings configures routing event publication.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // tcp://host:1883
	Topic    string // base topic, label is appended
	Username string
	Password string
	ClientID string
	Retain   bool
}

// NotifySettings configures operator notifications.
type NotifySettings struct {
	Enabled bool
	URLs    []string // shoutrrr service urls
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings is the root configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string // node name, used in notifications and mqtt client id
	}

	Logging    logger.LoggingConfig
	Capture    CaptureSettings
	Classifier ClassifierSettings
	Categories CategorySettings
	Narration  NarrationSettings
	Quotes     QuoteSettings
	WebServer  WebServerSettings
	Output     OutputSettings
	MQTT       MQTTSettings
	Notify     NotifySettings
	Sentry     SentrySettings
}

// MaxEntriesFor returns the cap for label.
func (s *CategorySettings) MaxEntriesFor(label string) int {
	if n, ok := s.Overrides[label]; ok && n > 0 {
		return n
	}
	return s.MaxEntries
}

var settingsMutex sync.Mutex

// Load reads configuration from the default search paths, creating the
// default config file on first run.
func Load() (*Settings, error) {
	return load("")
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Settings, error) {
	return load(path)
}

func load(path string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(path); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if missing := missingRequiredKeys(); len(missing) > 0 {
		return nil, errors.Newf("missing required configuration: %v", missing).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("config_file", viper.ConfigFileUsed()).
			Build()
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(path string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment variable issues", logger.Error(err))
	}

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, p := range configPaths {
		viper.AddConfigPath(p)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded template to dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // config is not secret until edited
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// DefaultConfig returns the embedded config template.
func DefaultConfig() []byte {
	data, _ := fs.ReadFile(configFiles, "config.yaml")
	return data
}
