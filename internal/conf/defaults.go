// defaults.go: default values for optional settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// requiredKeys have no compiled-in default and must come from the config
// file or the environment.
var requiredKeys = []string{
	"capture.interval",
	"capture.maxreacquireretries",
	"classifier.acceptthreshold",
	"classifier.maxretries",
	"categories.maxentries",
}

// setDefaultConfig sets default values for optional configuration parameters.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "gordon")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/gordon.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("capture.autostart", false)
	viper.SetDefault("capture.source", "ffmpeg")
	viper.SetDefault("capture.device", "/dev/video0")
	viper.SetDefault("capture.inputformat", "")
	viper.SetDefault("capture.ffmpegpath", "ffmpeg")
	viper.SetDefault("capture.framerate", 2.0)
	viper.SetDefault("capture.maxwidth", 512)
	viper.SetDefault("capture.reacquiredelay", 0)
	viper.SetDefault("capture.readtimeout", 5*time.Second)

	viper.SetDefault("classifier.provider", "cohere")
	viper.SetDefault("classifier.endpoint", "https://api.cohere.com")
	viper.SetDefault("classifier.model", "c4ai-aya-vision-8b")
	viper.SetDefault("classifier.labels", []string{"cheese", "pickles", "bread", "tomatoes", "lettuce", "meat"})
	viper.SetDefault("classifier.retrydelay", 500*time.Millisecond)
	viper.SetDefault("classifier.maxretrydelay", 5*time.Second)
	viper.SetDefault("classifier.timeout", 30*time.Second)
	viper.SetDefault("classifier.ratelimit", 2.0)

	viper.SetDefault("categories.path", "categories")

	viper.SetDefault("narration.enabled", true)
	viper.SetDefault("narration.provider", "elevenlabs")
	viper.SetDefault("narration.endpoint", "https://api.elevenlabs.io")
	viper.SetDefault("narration.voiceid", "2qkO9rb42qS5jRK9294E")
	viper.SetDefault("narration.modelid", "eleven_multilingual_v2")
	viper.SetDefault("narration.samplerate", 22050)
	viper.SetDefault("narration.stability", 0.5)
	viper.SetDefault("narration.similarity", 0.75)
	viper.SetDefault("narration.timeout", 60*time.Second)
	viper.SetDefault("narration.playback", true)

	viper.SetDefault("quotes.provider", "cohere")
	viper.SetDefault("quotes.model", "command-a-03-2025")
	viper.SetDefault("quotes.firstquoteoffset", 30*time.Second)
	viper.SetDefault("quotes.timeout", 60*time.Second)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":5000")
	viper.SetDefault("webserver.statscachettl", 2*time.Second)
	viper.SetDefault("webserver.ratelimit", 20.0)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "gordon.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "gordon/categories")

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("sentry.enabled", false)
}

// missingRequiredKeys lists required keys absent from every config source.
func missingRequiredKeys() []string {
	var missing []string
	for _, key := range requiredKeys {
		if !viper.IsSet(key) {
			missing = append(missing, key)
		}
	}
	return missing
}
