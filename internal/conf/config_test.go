package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/gordon-go/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

const minimalConfig = `
capture:
  interval: 2s
  maxreacquireretries: 3
classifier:
  acceptthreshold: 0.5
  maxretries: 3
categories:
  maxentries: 10
`

func TestLoadFileWithRequiredKeys(t *testing.T) {
	resetViper(t)

	settings, err := LoadFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, settings.Capture.Interval)
	assert.Equal(t, 3, settings.Capture.MaxReacquireRetries)
	assert.InDelta(t, 0.5, settings.Classifier.AcceptThreshold, 1e-9)
	assert.Equal(t, 3, settings.Classifier.MaxRetries)
	assert.Equal(t, 10, settings.Categories.MaxEntries)

	// Optional keys fall back to defaults
	assert.Equal(t, "ffmpeg", settings.Capture.Source)
	assert.Equal(t, []string{"cheese", "pickles", "bread", "tomatoes", "lettuce", "meat"}, settings.Classifier.Labels)
	assert.Equal(t, "2qkO9rb42qS5jRK9294E", settings.Narration.VoiceID)
	assert.Equal(t, 30*time.Second, settings.Quotes.FirstQuoteOffset)
}

func TestLoadFileMissingRequiredKeys(t *testing.T) {
	resetViper(t)

	_, err := LoadFile(writeConfig(t, "capture:\n  interval: 2s\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "classifier.acceptthreshold")
	assert.Contains(t, err.Error(), "categories.maxentries")
	assert.NotContains(t, err.Error(), "capture.interval")
}

func TestRequiredKeysFromEnvironment(t *testing.T) {
	resetViper(t)
	t.Setenv("GORDON_ACCEPT_THRESHOLD", "0.7")
	t.Setenv("GORDON_MAX_ENTRIES", "4")
	t.Setenv("COHERE_API_KEY", "test-key")

	body := `
capture:
  interval: 1s
  maxreacquireretries: 2
classifier:
  maxretries: 2
`
	settings, err := LoadFile(writeConfig(t, body))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, settings.Classifier.AcceptThreshold, 1e-9)
	assert.Equal(t, 4, settings.Categories.MaxEntries)
	assert.Equal(t, "test-key", settings.Classifier.APIKey)
}

func TestLoadFileValidation(t *testing.T) {
	resetViper(t)

	path := writeConfig(t, `
capture:
  interval: 2s
  maxreacquireretries: 3
  source: webcam
classifier:
  acceptthreshold: 1.5
  maxretries: 0
categories:
  maxentries: 10
  overrides:
    sushi: 3
`)
	_, err := LoadFile(path)
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "capture.source")
	assert.Contains(t, ve.Error(), "classifier.acceptthreshold")
	assert.Contains(t, ve.Error(), "classifier.maxretries")
	assert.Contains(t, ve.Error(), `unknown label "sushi"`)
}

func TestMaxEntriesFor(t *testing.T) {
	s := CategorySettings{MaxEntries: 10, Overrides: map[string]int{"bread": 3}}
	assert.Equal(t, 3, s.MaxEntriesFor("bread"))
	assert.Equal(t, 10, s.MaxEntriesFor("cheese"))
}

func TestEmbeddedConfigLoads(t *testing.T) {
	resetViper(t)

	settings, err := LoadFile(writeConfig(t, string(DefaultConfig())))
	require.NoError(t, err)
	assert.Equal(t, 10, settings.Categories.MaxEntries)
	assert.Equal(t, ":5000", settings.WebServer.Listen)
	assert.True(t, settings.Output.SQLite.Enabled)
}

func TestEnvValidators(t *testing.T) {
	assert.NoError(t, validateEnvThreshold("0.4"))
	assert.Error(t, validateEnvThreshold("1.2"))
	assert.Error(t, validateEnvPositiveInt("0"))
	assert.NoError(t, validateEnvNonNegativeInt("0"))
	assert.NoError(t, validateEnvDuration("500ms"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.Error(t, validateEnvURL("not a url"))
	assert.NoError(t, validateEnvBool("true"))
}
