package narration

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// MalgoPlayer plays PCM on the default output device. Each call opens its
// own playback device, so lines from different sessions overlap and the
// backend mixes them. Close waits for calls in progress.
type MalgoPlayer struct {
	ctx *malgo.AllocatedContext
	log logger.Logger
	mu  sync.RWMutex
}

// NewMalgoPlayer initializes the audio backend.
func NewMalgoPlayer() (*MalgoPlayer, error) {
	log := GetLogger().Module("player")

	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", logger.String("message", message))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("narration").
			Category(errors.CategoryNarration).
			Context("operation", "init_audio_context").
			Build()
	}
	return &MalgoPlayer{ctx: ctx, log: log}, nil
}

// Play blocks until pcm has been played, ctx ends or the device stops.
func (p *MalgoPlayer) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.ctx == nil {
		return errors.Newf("player is closed").
			Component("narration").
			Category(errors.CategoryState).
			Build()
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = numChannels
	cfg.SampleRate = uint32(sampleRate) //nolint:gosec // validated sample rates fit in uint32

	var (
		pos      int
		drained  atomic.Bool
		done     = make(chan struct{})
		doneOnce sync.Once
	)
	finish := func() { doneOnce.Do(func() { close(done) }) }

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, pcm[pos:])
			pos += n
			clear(out[n:])
			// Finish on the first callback with nothing left so the last
			// period reaches the device.
			if n == 0 {
				drained.Store(true)
				finish()
			}
		},
		Stop: finish,
	}

	device, err := malgo.InitDevice(p.ctx.Context, cfg, callbacks)
	if err != nil {
		return errors.New(err).
			Component("narration").
			Category(errors.CategoryNarration).
			Context("operation", "init_playback_device").
			Build()
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return errors.New(err).
			Component("narration").
			Category(errors.CategoryNarration).
			Context("operation", "start_playback_device").
			Build()
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	if err := device.Stop(); err != nil {
		p.log.Debug("error stopping playback device", logger.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if !drained.Load() {
		return errors.Newf("playback device stopped before the line finished").
			Component("narration").
			Category(errors.CategoryNarration).
			Build()
	}
	return nil
}

// Close releases the audio backend.
func (p *MalgoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Uninit()
	p.ctx.Free()
	p.ctx = nil
	return err
}
