package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

const (
	stderrTailSize   = 4096
	maxFrameSize     = 16 << 20
	processWaitDelay = 2 * time.Second
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegConfig configures the ffmpeg source.
type FFmpegConfig struct {
	Path        string  // ffmpeg binary
	Device      string  // input, e.g. /dev/video0 or rtsp://...
	InputFormat string  // -f value for the input, empty to let ffmpeg probe
	FrameRate   float64 // frames per second produced by ffmpeg
	MaxWidth    int     // scale width, 0 keeps the native size
}

// FFmpegSource captures frames by running ffmpeg as an MJPEG pipe.
type FFmpegSource struct {
	cfg FFmpegConfig
	log logger.Logger
}

// NewFFmpegSource creates an ffmpeg source.
func NewFFmpegSource(cfg FFmpegConfig) (*FFmpegSource, error) {
	if cfg.Device == "" {
		return nil, errors.Newf("capture device is not configured").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 1
	}
	return &FFmpegSource{cfg: cfg, log: GetLogger().Module("ffmpeg")}, nil
}

// Args returns the ffmpeg command line, without the binary.
func (s *FFmpegSource) Args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if s.cfg.InputFormat != "" {
		args = append(args, "-f", s.cfg.InputFormat)
	}
	filter := "fps=" + strconv.FormatFloat(s.cfg.FrameRate, 'f', -1, 64)
	if s.cfg.MaxWidth > 0 {
		filter += fmt.Sprintf(",scale=%d:-2", s.cfg.MaxWidth)
	}
	return append(args,
		"-i", s.cfg.Device,
		"-vf", filter,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-",
	)
}

// Open starts ffmpeg. The process lives until the stream is closed or ctx ends.
func (s *FFmpegSource) Open(ctx context.Context) (Stream, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, s.cfg.Path, s.Args()...) //nolint:gosec // path and args come from validated settings
	cmd.WaitDelay = processWaitDelay

	tail := newStderrTail(stderrTailSize)
	cmd.Stderr = tail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, s.openError(err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, s.openError(err)
	}

	st := &ffmpegStream{
		wait:     cmd.Wait,
		cancel:   cancel,
		frames:   make(chan []byte, 1),
		done:     make(chan struct{}),
		tail:     tail,
		log:      s.log,
		maxFrame: maxFrameSize,
	}
	go st.pump(stdout)

	s.log.Debug("ffmpeg started",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("args", strings.Join(s.Args(), " ")))
	return st, nil
}

func (s *FFmpegSource) openError(err error) error {
	return errors.New(err).
		Component("capture").
		Category(errors.CategoryCommandExecution).
		Context("ffmpeg_path", s.cfg.Path).
		Context("device", s.cfg.Device).
		Build()
}

type ffmpegStream struct {
	wait     func() error
	cancel   context.CancelFunc
	frames   chan []byte
	done     chan struct{}
	tail     *stderrTail
	log      logger.Logger
	maxFrame int

	exitErr   error
	closeOnce sync.Once
}

// pump splits stdout into frames, keeping only the newest unread frame.
func (st *ffmpegStream) pump(stdout io.Reader) {
	defer close(st.done)

	scanErr := pumpFrames(stdout, st.frames, st.maxFrame)
	if scanErr != nil {
		// Nobody drains stdout any more, so ffmpeg would stall on the pipe.
		st.log.Warn("unreadable ffmpeg output, stopping process", logger.Error(scanErr))
		st.cancel()
	}

	err := st.wait()
	switch {
	case scanErr != nil:
		err = errors.Join(scanErr, err)
	case err == nil:
		err = errors.NewStd("ffmpeg exited")
	}
	st.exitErr = err
}

// pumpFrames sends frames until r ends. It returns the scanner error, e.g.
// bufio.ErrTooLong for a frame larger than limit.
func pumpFrames(r io.Reader, frames chan []byte, limit int) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(256*1024, limit)), limit)
	scanner.Split(scanJPEG)

	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		// Replace any unread frame so readers always get the newest one.
		select {
		case <-frames:
		default:
		}
		frames <- frame
	}
	return scanner.Err()
}

// ReadFrame returns the newest frame, waiting for one if none is buffered.
func (st *ffmpegStream) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-st.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-st.frames:
		return frame, nil
	case <-st.done:
		// Drain a frame written just before exit.
		select {
		case frame := <-st.frames:
			return frame, nil
		default:
		}
		return nil, errors.New(st.exitErr).
			Component("capture").
			Category(errors.CategoryCaptureSource).
			Context("stderr", st.tail.String()).
			Build()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops ffmpeg and waits for the reader to finish.
func (st *ffmpegStream) Close() error {
	st.closeOnce.Do(func() {
		st.cancel()
		<-st.done
	})
	return nil
}

// scanJPEG is a bufio.SplitFunc that yields complete JPEG images delimited
// by the SOI and EOI markers. Bytes outside a marker pair are skipped.
func scanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing byte that may be the first half of a marker.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// stderrTail keeps the last bytes written to it.
type stderrTail struct {
	mu sync.Mutex
	rb *ringbuffer.RingBuffer
}

func newStderrTail(size int) *stderrTail {
	return &stderrTail{rb: ringbuffer.New(size)}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if capacity := t.rb.Capacity(); len(p) > capacity {
		p = p[len(p)-capacity:]
	}
	if over := len(p) - t.rb.Free(); over > 0 {
		_, _ = t.rb.Read(make([]byte, over))
	}
	_, _ = t.rb.Write(p)
	return n, nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	length := t.rb.Length()
	if length == 0 {
		return ""
	}
	buf := make([]byte, length)
	n, _ := t.rb.Read(buf)
	_, _ = t.rb.Write(buf[:n])
	return strings.TrimSpace(string(buf[:n]))
}
