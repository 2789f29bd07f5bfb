package category

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
)

// imageExts are the blob extensions picked up when rescanning label folders.
var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// Load rebuilds the index from the label folders on disk, clears leftover
// staged frames and evicts anything above the caps.
func (s *Store) Load() error {
	stagePath := filepath.Join(s.cfg.Root, stagingDir)
	if err := s.fs.RemoveAll(stagePath); err != nil {
		s.log.Warn("failed to clear staging area", logger.String("path", stagePath), logger.Error(err))
	}

	for label := range s.labels {
		entries, err := s.scanLabel(label)
		if err != nil {
			return err
		}

		cat := s.category(label)
		cat.mu.Lock()
		cat.entries = entries
		evicted := s.evictLocked(cat)
		count := len(cat.entries)
		cat.mu.Unlock()

		s.metrics.SetEntries(label, count)
		if count > 0 || len(evicted) > 0 {
			s.log.Info("category loaded",
				logger.String("label", label),
				logger.Int("count", count),
				logger.Int("evicted", len(evicted)))
		}
	}
	return nil
}

// scanLabel lists the blobs of one label folder in (CreatedAt, name) order.
func (s *Store) scanLabel(label string) ([]Entry, error) {
	dir := filepath.Join(s.cfg.Root, label)
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.storageError(err, "scan", dir)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(info.Name()))) {
			continue
		}
		entries = append(entries, Entry{
			Name:      info.Name(),
			Label:     label,
			Path:      filepath.Join(dir, info.Name()),
			CreatedAt: parseNameTime(info.Name(), info.ModTime()),
		})
	}

	// ReadDir returns names sorted, so a stable sort keeps name order as the
	// tiebreaker for equal timestamps.
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	for i := range entries {
		entries[i].seq = s.seq.Add(1)
	}
	return entries, nil
}

// parseNameTime recovers the capture time from a blob name, falling back to
// the file modification time for foreign files.
func parseNameTime(name string, fallback time.Time) time.Time {
	if len(name) < len(NameLayout) {
		return fallback
	}
	t, err := time.ParseInLocation(NameLayout, name[:len(NameLayout)], time.UTC)
	if err != nil {
		return fallback
	}
	return t
}

// Stats returns a summary for every configured label.
func (s *Store) Stats() map[string]Stats {
	out := make(map[string]Stats, len(s.labels))
	for label := range s.labels {
		st := Stats{Max: s.maxFor(label)}
		if cat, ok := s.lookup(label); ok {
			cat.mu.Lock()
			st.Count = len(cat.entries)
			if st.Count > 0 {
				latest := cat.entries[st.Count-1]
				st.Latest = latest.Name
				st.LatestTime = latest.CreatedAt
			}
			cat.mu.Unlock()
		}
		out[label] = st
	}
	return out
}

// Entries returns the entries of label, newest first.
func (s *Store) Entries(label string) ([]Entry, error) {
	if !s.isLabel(label) {
		return nil, notFound("unknown label", label, "")
	}
	cat, ok := s.lookup(label)
	if !ok {
		return []Entry{}, nil
	}

	cat.mu.Lock()
	out := slices.Clone(cat.entries)
	cat.mu.Unlock()

	slices.Reverse(out)
	return out, nil
}

// ReadBlob returns the bytes of a stored entry.
func (s *Store) ReadBlob(label, name string) ([]byte, error) {
	e, err := s.find(label, name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("blob missing", label, name)
		}
		return nil, s.storageError(err, "read", e.Path)
	}
	return data, nil
}

// Delete removes a stored entry and its blob.
func (s *Store) Delete(label, name string) error {
	if !s.isLabel(label) {
		return notFound("unknown label", label, name)
	}
	cat, ok := s.lookup(label)
	if !ok {
		return notFound("entry not found", label, name)
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()

	i := slices.IndexFunc(cat.entries, func(e Entry) bool { return e.Name == name })
	if i < 0 {
		return notFound("entry not found", label, name)
	}
	e := cat.entries[i]
	if err := s.fs.Remove(e.Path); err != nil && !os.IsNotExist(err) {
		return s.storageError(err, "delete", e.Path)
	}
	cat.entries = slices.Delete(cat.entries, i, i+1)
	s.metrics.SetEntries(label, len(cat.entries))
	return nil
}

func (s *Store) find(label, name string) (Entry, error) {
	if !s.isLabel(label) {
		return Entry{}, notFound("unknown label", label, name)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return Entry{}, errors.Newf("invalid entry name %q", name).
			Component("category").
			Category(errors.CategoryValidation).
			Build()
	}
	cat, ok := s.lookup(label)
	if !ok {
		return Entry{}, notFound("entry not found", label, name)
	}

	cat.mu.Lock()
	defer cat.mu.Unlock()
	for _, e := range cat.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, notFound("entry not found", label, name)
}

func notFound(msg, label, name string) error {
	return errors.Newf("%s", msg).
		Component("category").
		Category(errors.CategoryNotFound).
		Context("label", label).
		Context("name", name).
		Build()
}
