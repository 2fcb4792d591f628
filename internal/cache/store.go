// Package cache implements the filesystem-backed snapshot cache: raw
// artifacts staged under raw/, servable structured artifacts under data/.
// The structured area is the single source of truth for "is this key
// servable"; no other component answers that question.
package cache

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windatlas/gfscache/internal/timekey"
)

const (
	rawExt  = ".grib2"
	dataExt = ".json"
)

// Store is a concurrency-safe filesystem cache keyed by snapshot key.
// Structured artifacts are immutable once written; a re-fetch produces a
// new file rather than mutating in place.
type Store struct {
	rawDir  string
	dataDir string

	mu sync.Mutex
	// tracked holds every key whose raw lifecycle this process has started
	// or completed. Orphan reconciliation never touches tracked keys.
	tracked map[string]struct{}
}

// NewStore creates a Store rooted at dir. Directories are created lazily
// on first write.
func NewStore(dir string) *Store {
	return &Store{
		rawDir:  filepath.Join(dir, "raw"),
		dataDir: filepath.Join(dir, "data"),
		tracked: make(map[string]struct{}),
	}
}

// RawPath returns the canonical staging path for a key's raw artifact.
func (s *Store) RawPath(key string) string {
	return filepath.Join(s.rawDir, key+rawExt)
}

// StructuredPath returns the canonical servable path for a key.
func (s *Store) StructuredPath(key string) string {
	return filepath.Join(s.dataDir, key+dataExt)
}

// Exists reports whether the structured artifact for key is on disk.
func (s *Store) Exists(key string) bool {
	info, err := os.Stat(s.StructuredPath(key))
	return err == nil && !info.IsDir()
}

// RawExists reports whether the raw artifact for key is on disk.
func (s *Store) RawExists(key string) bool {
	info, err := os.Stat(s.RawPath(key))
	return err == nil && !info.IsDir()
}

// Track records key as owned by this process so reconciliation leaves its
// files alone for the rest of the process lifetime.
func (s *Store) Track(key string) {
	s.mu.Lock()
	s.tracked[key] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) isTracked(key string) bool {
	s.mu.Lock()
	_, ok := s.tracked[key]
	s.mu.Unlock()
	return ok
}

// WriteRaw streams r to the raw staging area for key. The write is atomic:
// data goes to a uniquely named temp file that is renamed into place on
// success and removed on any failure, so a raw artifact is either fully
// written or absent.
func (s *Store) WriteRaw(key string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.rawDir, 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}

	s.Track(key)

	tmp := filepath.Join(s.rawDir, key+"."+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create raw artifact: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write raw artifact %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close raw artifact %s: %w", key, err)
	}

	dst := s.RawPath(key)
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish raw artifact %s: %w", key, err)
	}
	return dst, nil
}

// RemoveRaw deletes the raw artifact for key. Called after a successful
// conversion; only the structured form is retained.
func (s *Store) RemoveRaw(key string) error {
	if err := os.Remove(s.RawPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove raw artifact %s: %w", key, err)
	}
	return nil
}

// EnsureDataDir creates the structured area; converters write into it.
func (s *Store) EnsureDataDir() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// ReconcileOrphans scans both areas and removes files left behind by a
// crash mid-conversion: raw artifacts with no structured counterpart,
// structured artifacts with no raw counterpart, and stray temp files —
// unless their key is tracked by this process. Returns the number of
// files removed; running it twice removes nothing the second time.
func (s *Store) ReconcileOrphans() (int, error) {
	removed := 0

	rawEntries, err := readDirIfPresent(s.rawDir)
	if err != nil {
		return 0, err
	}
	for _, e := range rawEntries {
		name := e.Name()
		key, _, _ := strings.Cut(name, ".")
		if s.isTracked(key) {
			continue
		}
		if strings.HasSuffix(name, ".tmp") || !s.Exists(key) {
			if err := os.Remove(filepath.Join(s.rawDir, name)); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("remove orphaned raw %s: %w", name, err)
			}
			log.Printf("INFO: cache: removed orphaned raw artifact %s", name)
			removed++
		}
	}

	dataEntries, err := readDirIfPresent(s.dataDir)
	if err != nil {
		return removed, err
	}
	for _, e := range dataEntries {
		name := e.Name()
		key := strings.TrimSuffix(name, dataExt)
		if s.isTracked(key) {
			continue
		}
		if !s.RawExists(key) {
			if err := os.Remove(filepath.Join(s.dataDir, name)); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("remove orphaned structured %s: %w", name, err)
			}
			log.Printf("INFO: cache: removed orphaned structured artifact %s", name)
			removed++
		}
	}

	return removed, nil
}

// CheckFreshness walks the structured area and, for every artifact whose
// modification time is older than maxAge, triggers refetch for that exact
// key's grid time. Refetches run fire-and-forget; nothing is returned to
// the caller and refetch failures stay with the refetcher.
func (s *Store) CheckFreshness(maxAge time.Duration, refetch func(time.Time)) error {
	entries, err := readDirIfPresent(s.dataDir)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, dataExt) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		key := strings.TrimSuffix(name, dataExt)
		t, err := timekey.Parse(key)
		if err != nil {
			log.Printf("ERROR: cache: stale artifact %s has unparseable key: %v", name, err)
			continue
		}

		log.Printf("INFO: cache: artifact %s exceeded max age %s, scheduling re-fetch", key, maxAge)
		go refetch(t)
	}
	return nil
}

func readDirIfPresent(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir %s: %w", dir, err)
	}
	return entries, nil
}
