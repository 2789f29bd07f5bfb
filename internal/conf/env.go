// env.go: environment variable bindings and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Provider credentials
		{"classifier.apikey", "COHERE_API_KEY", nil},
		{"narration.apikey", "ELEVENLABS_API_KEY", nil},
		{"narration.voiceid", "GORDON_VOICE_ID", nil},

		// Capture
		{"capture.device", "GORDON_CAPTURE_DEVICE", nil},
		{"capture.snapshoturl", "GORDON_SNAPSHOT_URL", validateEnvURL},
		{"capture.interval", "GORDON_CAPTURE_INTERVAL", validateEnvDuration},
		{"capture.maxreacquireretries", "GORDON_MAX_REACQUIRE_RETRIES", validateEnvNonNegativeInt},

		// Classification and storage
		{"classifier.acceptthreshold", "GORDON_ACCEPT_THRESHOLD", validateEnvThreshold},
		{"classifier.maxretries", "GORDON_MAX_RETRIES", validateEnvPositiveInt},
		{"categories.maxentries", "GORDON_MAX_ENTRIES", validateEnvPositiveInt},
		{"categories.path", "GORDON_CATEGORIES_PATH", nil},

		// Persistence and integrations
		{"output.sqlite.path", "GORDON_DB_PATH", nil},
		{"output.mysql.password", "GORDON_MYSQL_PASSWORD", nil},
		{"mqtt.password", "GORDON_MQTT_PASSWORD", nil},
		{"sentry.dsn", "SENTRY_DSN", nil},
		{"debug", "GORDON_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvThreshold(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil || v < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	v, err := strconv.Atoi(value)
	if err != nil || v < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 2s")
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute url")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}
