// Package category keeps accepted frames in bounded per-label folders.
//
// Each label maps to <root>/<label>/ on an afero filesystem. Entries inside a
// label are ordered by capture time and the oldest are evicted once the label
// exceeds its cap. Routing calls for one label are serialized; labels are
// independent of each other.
package category

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/gordon-go/internal/classifier"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/observability/metrics"
)

// NameLayout is the timestamp layout used for blob names.
const NameLayout = "20060102_150405.000000"

const stagingDir = ".staging"

// Outcome of a routing call.
type Outcome string

const (
	Accepted  Outcome = "accepted"
	Discarded Outcome = "discarded"
)

// Reasons for discarding a frame.
const (
	ReasonIrrelevant    = "irrelevant"
	ReasonUnknownLabel  = "unknown_label"
	ReasonLowConfidence = "low_confidence"
)

// Entry is a stored (or staged) frame. Entries are immutable once stored.
type Entry struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Path      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	seq       uint64
}

// before orders entries by capture time, then by staging order.
func (e Entry) before(o Entry) bool {
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.seq < o.seq
}

// RouteResult describes what Route did with a frame.
type RouteResult struct {
	Outcome    Outcome `json:"outcome"`
	Entry      Entry   `json:"entry"`
	Evicted    []Entry `json:"evicted,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Stats summarizes one label.
type Stats struct {
	Count      int       `json:"count"`
	Max        int       `json:"max"`
	Latest     string    `json:"latest,omitempty"`
	LatestTime time.Time `json:"latest_time,omitzero"`
}

// Config configures a Store.
type Config struct {
	Root            string
	Labels          []string
	AcceptThreshold float64
	MaxEntries      int
	Overrides       map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the store metrics.
func WithMetrics(m *metrics.CategoryMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// category holds the ordered entries of one label.
type category struct {
	name    string
	maxSize int
	mu      sync.Mutex
	entries []Entry
}

// Store routes classified frames into bounded label folders.
type Store struct {
	fs      afero.Fs
	cfg     Config
	labels  map[string]struct{}
	log     logger.Logger
	metrics *metrics.CategoryMetrics

	mu         sync.RWMutex
	categories map[string]*category

	seq atomic.Uint64
}

// New creates a Store on fs. It does not scan existing folders; call Load.
func New(fs afero.Fs, cfg Config, opts ...Option) (*Store, error) {
	if fs == nil {
		return nil, errors.Newf("filesystem is required").
			Component("category").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.MaxEntries < 1 {
		return nil, errors.Newf("max entries must be at least 1, got %d", cfg.MaxEntries).
			Component("category").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.AcceptThreshold < 0 || cfg.AcceptThreshold > 1 {
		return nil, errors.Newf("accept threshold must be within [0,1], got %v", cfg.AcceptThreshold).
			Component("category").
			Category(errors.CategoryValidation).
			Build()
	}
	if len(cfg.Labels) == 0 {
		return nil, errors.Newf("at least one label is required").
			Component("category").
			Category(errors.CategoryValidation).
			Build()
	}

	s := &Store{
		fs:         fs,
		cfg:        cfg,
		labels:     make(map[string]struct{}, len(cfg.Labels)),
		log:        GetLogger(),
		categories: make(map[string]*category),
	}
	for _, l := range cfg.Labels {
		s.labels[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Labels returns the configured labels in configuration order.
func (s *Store) Labels() []string {
	return slices.Clone(s.cfg.Labels)
}

func (s *Store) maxFor(label string) int {
	if n, ok := s.cfg.Overrides[label]; ok && n > 0 {
		return n
	}
	return s.cfg.MaxEntries
}

// Stage writes a frame into the staging area so it can be routed once
// classified. ext includes the dot, e.g. ".jpg".
func (s *Store) Stage(data []byte, capturedAt time.Time, ext string) (Entry, error) {
	seq := s.seq.Add(1)
	base := capturedAt.UTC().Format(NameLayout)
	name := fmt.Sprintf("%s_%d%s", base, seq, ext)
	dir := filepath.Join(s.cfg.Root, stagingDir)
	path := filepath.Join(dir, name)

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, s.storageError(err, "stage_mkdir", path)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return Entry{}, s.storageError(err, "stage_write", path)
	}

	return Entry{
		Name:      base + ext,
		Path:      path,
		CreatedAt: capturedAt,
		seq:       seq,
	}, nil
}

// Discard removes a staged blob that will not be routed.
func (s *Store) Discard(e Entry) {
	s.removeBlob(e.Path, "discard")
}

// Route stores a staged entry under the predicted label or discards it.
// A discarded frame is not an error. The returned error is always a storage
// failure; the staged blob is removed in that case too.
func (s *Store) Route(ctx context.Context, e Entry, p classifier.Prediction) (RouteResult, error) {
	log := s.log.WithContext(ctx)
	label := strings.ToLower(strings.TrimSpace(p.Label))
	result := RouteResult{Label: label, Confidence: p.Confidence}

	if reason := s.rejectReason(label, p.Confidence); reason != "" {
		s.removeBlob(e.Path, "discard")
		result.Outcome = Discarded
		result.Reason = reason
		result.Entry = e
		s.metrics.RecordRouted(string(Discarded), reason)
		log.Debug("frame discarded",
			logger.String("label", label),
			logger.Float64("confidence", p.Confidence),
			logger.String("reason", reason))
		return result, nil
	}

	cat := s.category(label)
	cat.mu.Lock()
	defer cat.mu.Unlock()

	dir := filepath.Join(s.cfg.Root, label)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		s.removeBlob(e.Path, "discard")
		return result, s.storageError(err, "mkdir", dir)
	}

	name := cat.uniqueName(s.fs, dir, e.Name)
	dest := filepath.Join(dir, name)
	if err := s.fs.Rename(e.Path, dest); err != nil {
		s.removeBlob(e.Path, "discard")
		return result, s.storageError(err, "move", dest)
	}

	stored := Entry{Name: name, Label: label, Path: dest, CreatedAt: e.CreatedAt, seq: e.seq}
	cat.insert(stored)
	evicted := s.evictLocked(cat)

	s.metrics.RecordRouted(string(Accepted), "")
	s.metrics.SetEntries(label, len(cat.entries))

	log.Info("frame stored",
		logger.String("label", label),
		logger.String("name", name),
		logger.Float64("confidence", p.Confidence),
		logger.Int("count", len(cat.entries)),
		logger.Int("evicted", len(evicted)))

	result.Outcome = Accepted
	result.Entry = stored
	result.Evicted = evicted
	return result, nil
}

func (s *Store) rejectReason(label string, confidence float64) string {
	switch {
	case label == "" || label == classifier.IrrelevantLabel:
		return ReasonIrrelevant
	case !s.isLabel(label):
		return ReasonUnknownLabel
	case confidence < s.cfg.AcceptThreshold:
		return ReasonLowConfidence
	default:
		return ""
	}
}

func (s *Store) isLabel(label string) bool {
	_, ok := s.labels[label]
	return ok
}

// category returns the category for label, creating it on first use.
func (s *Store) category(label string) *category {
	s.mu.RLock()
	cat, ok := s.categories[label]
	s.mu.RUnlock()
	if ok {
		return cat
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cat, ok = s.categories[label]; ok {
		return cat
	}
	cat = &category{name: label, maxSize: s.maxFor(label)}
	s.categories[label] = cat
	return cat
}

// lookup returns an existing category without creating one.
func (s *Store) lookup(label string) (*category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[label]
	return cat, ok
}

// evictLocked drops the oldest entries until the category is within its cap.
// Blob deletion failures are logged; the entry leaves the index regardless.
func (s *Store) evictLocked(cat *category) []Entry {
	excess := len(cat.entries) - cat.maxSize
	if excess <= 0 {
		return nil
	}
	evicted := slices.Clone(cat.entries[:excess])
	cat.entries = slices.Delete(cat.entries, 0, excess)

	for _, e := range evicted {
		s.removeBlob(e.Path, "evict")
		s.log.Debug("entry evicted",
			logger.String("label", cat.name),
			logger.String("name", e.Name))
	}
	s.metrics.RecordEvictions(cat.name, len(evicted))
	return evicted
}

func (s *Store) removeBlob(path, operation string) {
	if path == "" {
		return
	}
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		s.metrics.RecordStorageError(operation)
		s.log.Warn("failed to remove blob",
			logger.String("path", path),
			logger.String("operation", operation),
			logger.Error(err))
	}
}

func (s *Store) storageError(err error, operation, path string) error {
	s.metrics.RecordStorageError(operation)
	enhanced := errors.New(err).
		Component("category").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("path", path).
		Build()
	s.log.Error("category storage failure", logger.Error(enhanced), logger.String("operation", operation))
	return enhanced
}

// insert places e in (CreatedAt, seq) order. Frames nearly always arrive in
// order so the scan starts from the back.
func (c *category) insert(e Entry) {
	i := len(c.entries)
	for i > 0 && e.before(c.entries[i-1]) {
		i--
	}
	c.entries = slices.Insert(c.entries, i, e)
}

// uniqueName returns name, or name with a numeric suffix if it is taken.
func (c *category) uniqueName(fs afero.Fs, dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		taken := slices.ContainsFunc(c.entries, func(e Entry) bool { return e.Name == candidate })
		if !taken {
			if exists, _ := afero.Exists(fs, filepath.Join(dir, candidate)); !exists {
				return candidate
			}
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}
}

// GetLogger returns the category module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("category")
}
