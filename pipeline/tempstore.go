package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Access-denial markers written into every store directory.
var storeMarkers = map[string]string{
	".htaccess":  "Deny from all",
	"index.html": "",
}

// ErrNotStored is returned by Take for names the store does not hold.
var ErrNotStored = errors.New("file not stored")

// TempStore holds async export results until they are downloaded or expire.
// File names are random, so they cannot be guessed from a listing of other
// exports.
type TempStore struct {
	dir string
	log *logrus.Entry
	now func() time.Time
}

// NewTempStore creates dir, including its access-denial markers, when needed.
func NewTempStore(dir string, log *logrus.Entry) (*TempStore, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp store: %w", err)
	}
	for name, content := range storeMarkers {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return &TempStore{dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the store directory.
func (s *TempStore) Dir() string { return s.dir }

// Put stores data under a new random name with extension ext and returns the
// name.
func (s *TempStore) Put(ext string, data []byte) (string, error) {
	name := uuid.NewString() + "." + strings.TrimPrefix(ext, ".")
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return "", fmt.Errorf("store export: %w", err)
	}
	return name, nil
}

// validName reports whether name is a bare <uuid>.<ext> file name.
func validName(name string) bool {
	if name != filepath.Base(name) {
		return false
	}
	id, ext, ok := strings.Cut(name, ".")
	if !ok || ext == "" || strings.ContainsAny(ext, `/\`) {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Take returns the content stored under name and deletes the file. The file
// is first renamed to a fresh name, so of two concurrent calls for the same
// name only one gets the content.
func (s *TempStore) Take(name string) ([]byte, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotStored, name)
	}
	claimed := filepath.Join(s.dir, uuid.NewString()+".claimed")
	err := os.Rename(filepath.Join(s.dir, name), claimed)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotStored, name)
	}
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(claimed)
	if rmErr := os.Remove(claimed); rmErr != nil {
		s.log.WithError(rmErr).WithField("file", name).Warn("Failed to remove served export")
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Sweep deletes stored files older than ttl and returns how many it removed.
func (s *TempStore) Sweep(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("sweep temp store: %w", err)
	}
	cutoff := s.now().Add(-ttl)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (s *TempStore) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ttl)
			if err != nil {
				s.log.WithError(err).Warn("Temp store sweep failed")
			}
			if n > 0 {
				s.log.WithField("removed", n).Debug("Swept expired exports")
			}
		}
	}
}
