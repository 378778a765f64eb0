// Package journal persists an append-only JSON document with size- and
// age-triggered rollover into an archive directory.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options configures a Store. When Enabled is false every operation is a
// silent no-op: Load returns nil, Write drops the document.
type Options struct {
	Enabled     bool
	FilePath    string
	MaxFileSize int64
	MaxFileAge  time.Duration
	RolloverDir string
}

// Validate reports configuration errors. Called at startup; a non-nil
// error must abort the process before it accepts traffic.
func (o Options) Validate() error {
	if !o.Enabled {
		return nil
	}
	if o.FilePath == "" {
		return errors.New("journal: FilePath is required when enabled")
	}
	if o.MaxFileSize <= 0 {
		return fmt.Errorf("journal: MaxFileSize must be positive, got %d", o.MaxFileSize)
	}
	if o.MaxFileAge <= 0 {
		return fmt.Errorf("journal: MaxFileAge must be positive, got %s", o.MaxFileAge)
	}
	if o.RolloverDir == "" {
		return errors.New("journal: RolloverDir is required when enabled")
	}
	return nil
}

// Store serializes all document access behind a single mutex. Readers take
// the same lock as writers; rollover semantics stay simple and the JSON on
// disk is never torn. Writes are rare relative to provider I/O.
type Store struct {
	mu         sync.Mutex
	opts       Options
	createdAt  time.Time // current document's creation instant
	onRollover func(archivePath string)
}

// StoreOption configures optional Store behaviour.
type StoreOption func(*Store)

// WithOnRollover registers a callback invoked (outside the lock is NOT
// guaranteed; keep it fast) after each rollover with the archive path.
func WithOnRollover(fn func(archivePath string)) StoreOption {
	return func(s *Store) { s.onRollover = fn }
}

// NewStore creates a Store. Call Options.Validate before NewStore; the
// store assumes its options are well formed.
func NewStore(opts Options, sopts ...StoreOption) *Store {
	s := &Store{opts: opts, createdAt: time.Now()}
	for _, o := range sopts {
		o(s)
	}
	return s
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool { return s.opts.Enabled }

// Path returns the document path ("" when disabled).
func (s *Store) Path() string {
	if !s.opts.Enabled {
		return ""
	}
	return s.opts.FilePath
}

// EnsureFile creates an empty document (and parent directories) when the
// store is enabled and no document exists yet.
func (s *Store) EnsureFile() error {
	if !s.opts.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.opts.FilePath), 0o755); err != nil {
		return fmt.Errorf("journal: create parent dir: %w", err)
	}
	if err := os.MkdirAll(s.opts.RolloverDir, 0o755); err != nil {
		return fmt.Errorf("journal: create rollover dir: %w", err)
	}
	if info, err := os.Stat(s.opts.FilePath); err == nil {
		// Existing document: best available creation estimate.
		s.createdAt = info.ModTime()
		return nil
	}
	if err := s.createEmptyLocked(); err != nil {
		return err
	}
	return nil
}

// Load reads and decodes the current document. Returns (nil, nil) when the
// store is disabled or the document is absent or empty.
func Load[T any](s *Store) (*T, error) {
	if !s.opts.Enabled {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadLocked[T](s)
}

// Read is an alias of Load.
func Read[T any](s *Store) (*T, error) {
	return Load[T](s)
}

func loadLocked[T any](s *Store) (*T, error) {
	data, err := os.ReadFile(s.opts.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: read %s: %w", s.opts.FilePath, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("journal: decode %s: %w", s.opts.FilePath, err)
	}
	return &doc, nil
}

// Write replaces the document. A rollover check runs first and must
// complete before the write proceeds, so an oversized or stale document is
// archived and the write lands in a fresh one.
func Write[T any](s *Store, doc *T) error {
	if !s.opts.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeLocked(s, doc)
}

func writeLocked[T any](s *Store, doc *T) error {
	if err := s.rolloverIfNeededLocked(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.FilePath), 0o755); err != nil {
		return fmt.Errorf("journal: create parent dir: %w", err)
	}
	if err := os.WriteFile(s.opts.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("journal: write %s: %w", s.opts.FilePath, err)
	}
	return nil
}

// Update applies fn to the current document (a fresh zero document when
// absent) and writes the result back, all under one lock acquisition.
// Concurrent updaters therefore never lose each other's changes, which a
// separate Load-then-Write sequence cannot guarantee. The rollover check
// runs between fn and the write, so an oversized or stale document is
// archived and the updated document lands in a fresh file.
func Update[T any](s *Store, fn func(*T)) error {
	if !s.opts.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadLocked[T](s)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = new(T)
	}
	fn(doc)
	return writeLocked(s, doc)
}

// RolloverIfNeeded archives the document when it exceeds the size or age
// limit, then recreates an empty one.
func (s *Store) RolloverIfNeeded() error {
	if !s.opts.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolloverIfNeededLocked()
}

// ForceRollover unconditionally archives the current document (creating an
// empty one first if none exists) and recreates an empty document.
func (s *Store) ForceRollover() error {
	if !s.opts.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.opts.FilePath); os.IsNotExist(err) {
		if err := s.createEmptyLocked(); err != nil {
			return err
		}
	}
	return s.rolloverLocked()
}

func (s *Store) rolloverIfNeededLocked() error {
	info, err := os.Stat(s.opts.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: stat %s: %w", s.opts.FilePath, err)
	}
	if info.Size() > s.opts.MaxFileSize || time.Since(s.createdAt) > s.opts.MaxFileAge {
		return s.rolloverLocked()
	}
	return nil
}

func (s *Store) rolloverLocked() error {
	if err := os.MkdirAll(s.opts.RolloverDir, 0o755); err != nil {
		return fmt.Errorf("journal: create rollover dir: %w", err)
	}

	// Archive suffix uses local time so operators browsing the rollover
	// directory see familiar timestamps. Internal bookkeeping stays UTC.
	base := filepath.Base(s.opts.FilePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := time.Now().Format("20060102_150405")

	target := filepath.Join(s.opts.RolloverDir, stem+"_"+stamp+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(target); os.IsNotExist(err) {
			break
		}
		// Two rollovers inside one second; keep both archives.
		target = filepath.Join(s.opts.RolloverDir, fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext))
	}

	if err := os.Rename(s.opts.FilePath, target); err != nil {
		return fmt.Errorf("journal: archive %s: %w", s.opts.FilePath, err)
	}
	if err := s.createEmptyLocked(); err != nil {
		return err
	}
	if s.onRollover != nil {
		s.onRollover(target)
	}
	return nil
}

func (s *Store) createEmptyLocked() error {
	f, err := os.OpenFile(s.opts.FilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: create %s: %w", s.opts.FilePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close %s: %w", s.opts.FilePath, err)
	}
	s.createdAt = time.Now()
	return nil
}
