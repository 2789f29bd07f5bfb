// Package narration speaks narration lines: text is synthesized to PCM,
// written to a temporary WAV file and played on the default output device.
package narration

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

const (
	bitDepth    = 16
	numChannels = 1
	wavExt      = ".wav"
)

// Narrator speaks text. Speak blocks until the line has been played.
type Narrator interface {
	Speak(ctx context.Context, text string) error
	Close() error
}

// Synthesizer turns text into signed 16-bit little-endian mono PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	SampleRate() int
}

// Player plays signed 16-bit little-endian mono PCM.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
	Close() error
}

// Config configures a Client.
type Config struct {
	TempDir   string // directory for utterance files, defaults to $TMPDIR/gordon_tts
	KeepAudio bool   // keep utterance files after playback
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithFs sets the filesystem for utterance files.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// Client is a Narrator built from a Synthesizer and an optional Player.
// Without a player lines are synthesized and saved but not played.
type Client struct {
	synth  Synthesizer
	player Player
	cfg    Config
	fs     afero.Fs
	log    logger.Logger
}

// NewClient creates a narration client.
func NewClient(synth Synthesizer, player Player, cfg Config, opts ...Option) (*Client, error) {
	if synth == nil {
		return nil, errors.Newf("narration requires a synthesizer").
			Component("narration").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "gordon_tts")
	}
	c := &Client{
		synth:  synth,
		player: player,
		cfg:    cfg,
		fs:     afero.NewOsFs(),
		log:    GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.fs.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("narration").
			Category(errors.CategoryFileIO).
			Context("temp_dir", cfg.TempDir).
			Build()
	}
	return c, nil
}

// Speak synthesizes text, saves it and plays it.
func (c *Client) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.Newf("nothing to speak").
			Component("narration").
			Category(errors.CategoryValidation).
			Build()
	}

	started := time.Now()
	pcm, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	rate := c.synth.SampleRate()

	path := filepath.Join(c.cfg.TempDir, uuid.NewString()+wavExt)
	if err := writeWAV(c.fs, path, pcm, rate); err != nil {
		return errors.New(err).
			Component("narration").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if !c.cfg.KeepAudio {
		defer c.remove(path)
	}

	c.log.Info("speaking",
		logger.String("text", truncate(text, 60)),
		logger.Int("pcm_bytes", len(pcm)),
		logger.Duration("synthesis", time.Since(started)))

	if c.player == nil {
		return nil
	}
	if err := c.player.Play(ctx, pcm, rate); err != nil {
		return errors.New(err).
			Component("narration").
			Category(errors.CategoryNarration).
			Context("operation", "playback").
			Build()
	}
	return nil
}

func (c *Client) remove(path string) {
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("failed to remove utterance file", logger.String("path", path), logger.Error(err))
	}
}

// Cleanup removes leftover utterance files from the temp directory. Files
// are kept when KeepAudio is set.
func (c *Client) Cleanup() error {
	if c.cfg.KeepAudio {
		return nil
	}
	matches, err := afero.Glob(c.fs, filepath.Join(c.cfg.TempDir, "*"+wavExt))
	if err != nil {
		return err
	}
	for _, m := range matches {
		c.remove(m)
	}
	if len(matches) > 0 {
		c.log.Debug("removed utterance files", logger.Int("count", len(matches)))
	}
	return nil
}

// Close removes leftover files and releases the player.
func (c *Client) Close() error {
	errs := []error{c.Cleanup()}
	if c.player != nil {
		errs = append(errs, c.player.Close())
	}
	return errors.Join(errs...)
}

// writeWAV saves pcm as a mono 16-bit WAV file.
func writeWAV(fs afero.Fs, path string, pcm []byte, sampleRate int) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, numChannels, 1)
	buf := &audio.IntBuffer{
		Data:           pcmToInts(pcm),
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return samples
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LogNarrator logs lines instead of speaking them.
type LogNarrator struct {
	log logger.Logger
}

// NewLogNarrator creates a LogNarrator. A nil logger uses the module logger.
func NewLogNarrator(l logger.Logger) *LogNarrator {
	if l == nil {
		l = GetLogger()
	}
	return &LogNarrator{log: l}
}

// Speak implements Narrator.
func (n *LogNarrator) Speak(_ context.Context, text string) error {
	n.log.Info("narration", logger.String("text", text))
	return nil
}

// Close implements Narrator.
func (n *LogNarrator) Close() error { return nil }

// GetLogger returns the narration module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("narration")
}
