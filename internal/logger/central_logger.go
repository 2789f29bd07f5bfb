package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/gordon-go/internal/errors"
)

// slogTrace sits below slog.LevelDebug.
const slogTrace = slog.Level(-8)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process-wide logger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the process-wide logger. Before SetGlobal it is an
// info-level console logger.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			handler:      newTextHandler(os.Stdout, slog.LevelInfo),
			defaultLevel: slog.LevelInfo,
		}
	}
	return global
}

// CentralLogger owns the output handlers and the per-module levels.
type CentralLogger struct {
	mu           sync.RWMutex
	handler      slog.Handler
	file         *BufferedFileWriter
	defaultLevel slog.Level
	moduleLevels map[string]slog.Level
}

// NewCentralLogger builds the console and file outputs described by cfg.
// Missing sections are filled with defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.NewStd("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		defaultLevel: levelOf(cfg.DefaultLevel),
		moduleLevels: make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.moduleLevels[module] = levelOf(level)
	}

	var outputs []slog.Handler
	if cfg.Console.Enabled {
		outputs = append(outputs, newTextHandler(os.Stdout, levelOf(cfg.Console.Level)))
	}
	if cfg.FileOutput.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.FileOutput.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cl.file, err = NewBufferedFileWriter(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, newJSONHandler(cl.file, levelOf(cfg.FileOutput.Level), tz))
	}

	switch len(outputs) {
	case 0:
		cl.handler = newTextHandler(os.Stdout, cl.defaultLevel)
	case 1:
		cl.handler = outputs[0]
	default:
		cl.handler = newFanoutHandler(outputs...)
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// Module returns the logger for a module.
func (cl *CentralLogger) Module(name string) Logger {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return &moduleLogger{
		module:  name,
		handler: cl.handler,
		level:   cl.levelFor(name),
	}
}

// levelFor walks up the dotted module name, so "capture.ffmpeg" inherits a
// level set for "capture".
func (cl *CentralLogger) levelFor(module string) slog.Level {
	for name := module; name != ""; {
		if level, ok := cl.moduleLevels[name]; ok {
			return level
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return cl.defaultLevel
}

// Flush pushes buffered file output to disk.
func (cl *CentralLogger) Flush() error {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Flush()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := cl.file.Close()
	cl.file = nil
	return err
}

func levelOf(name string) slog.Level {
	switch Level(strings.ToLower(name)) {
	case LevelTrace:
		return slogTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
