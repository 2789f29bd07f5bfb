package narration

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/httpclient"
)

// DefaultElevenLabsEndpoint is the public ElevenLabs API base url.
const DefaultElevenLabsEndpoint = "https://api.elevenlabs.io"

// DefaultSampleRate is the PCM rate requested when none is configured.
const DefaultSampleRate = 22050

// maxAudioBody bounds synthesized audio, about six minutes at 44.1 kHz.
const maxAudioBody = 32 << 20

var supportedRates = []int{16000, 22050, 24000, 44100}

// ElevenLabsConfig configures the ElevenLabs synthesizer.
type ElevenLabsConfig struct {
	APIKey     string
	Endpoint   string
	VoiceID    string
	ModelID    string
	SampleRate int
	Stability  float64
	Similarity float64
}

// ElevenLabs synthesizes speech with the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	http *httpclient.Client
	cfg  ElevenLabsConfig
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// NewElevenLabs creates the ElevenLabs synthesizer.
func NewElevenLabs(http *httpclient.Client, cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, errors.Newf("elevenlabs api key and voice id are required").
			Component("narration").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if !slices.Contains(supportedRates, cfg.SampleRate) {
		return nil, errors.Newf("unsupported sample rate %d, want one of %v", cfg.SampleRate, supportedRates).
			Component("narration").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultElevenLabsEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if http == nil {
		http = httpclient.New(nil)
	}
	return &ElevenLabs{http: http, cfg: cfg}, nil
}

// SampleRate implements Synthesizer.
func (e *ElevenLabs) SampleRate() int { return e.cfg.SampleRate }

// Synthesize implements Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		e.cfg.Endpoint, url.PathEscape(e.cfg.VoiceID), e.cfg.SampleRate)

	body := ttsRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Similarity,
		},
	}
	resp, err := e.http.PostWithHeaders(ctx, endpoint, "application/json", body, map[string]string{
		"xi-api-key": e.cfg.APIKey,
		"Accept":     "audio/pcm",
	})
	if err != nil {
		return nil, e.synthError(err, errors.CategoryNetwork)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, e.synthError(err, errors.CategoryNarration)
	}
	defer func() { _ = resp.Body.Close() }()

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBody))
	if err != nil {
		return nil, e.synthError(err, errors.CategoryNetwork)
	}
	// Samples are two bytes; a dangling byte is dropped.
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) == 0 {
		return nil, e.synthError(errors.NewStd("empty audio response"), errors.CategoryNarration)
	}
	return pcm, nil
}

func (e *ElevenLabs) synthError(err error, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("narration").
		Category(category).
		Context("provider", "elevenlabs").
		Context("voice_id", e.cfg.VoiceID).
		Build()
}
