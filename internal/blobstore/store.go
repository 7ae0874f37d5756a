// Package blobstore owns the on-disk layout and in-memory state machine
// for cached archives.
//
// Grounded on original_source/src/store.cpp's Store/StoreReader/
// StoreWriter classes, generalized into idiomatic Go: a single
// sync.RWMutex guards a map that is never pruned (so a *entry obtained
// under the shared lock stays valid for the entry's whole life), and
// readers/writers are two independent handle types rather than a shared
// interface.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vcachehq/server/internal/archive"
)

// ErrConflict is returned by Write when an entry is already Valid or
// already being written.
var ErrConflict = errors.New("blob store: conflicting write")

// State is the lifecycle state of a BlobEntry.
type State int

const (
	// Valid means the archive is complete and readable on disk.
	Valid State = iota
	// Writing means an upload is in progress.
	Writing
	// Deleted means the archive has been evicted; the sha may be
	// re-uploaded, transitioning back to Writing.
	Deleted
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Writing:
		return "writing"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type entry struct {
	mu    sync.RWMutex
	state State
	info  archive.Info
}

// Store owns the blob directory tree and the in-memory sha -> state table.
type Store struct {
	root string
	log  *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// Open creates a Store rooted at root and runs the startup scan.
func Open(root string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating root: %w", err)
	}

	s := &Store{
		root:    root,
		log:     log,
		entries: make(map[string]*entry),
	}

	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan walks root recursively, inspects every *.zip file, and populates
// the in-memory table with the survivors as Valid. Files that fail
// inspection are logged and unlinked -- they are unreadable and cannot
// serve, matching original_source/src/store.cpp's scan().
func (s *Store) scan() error {
	s.log.Info("blobstore: starting scan", "root", s.root)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".zip" {
			return nil
		}

		s.log.Debug("blobstore: scan", "path", path)
		info, err := archive.Inspect(path)
		if err != nil {
			s.log.Error("blobstore: scan failed, removing entry", "path", path, "error", err)
			_ = os.Remove(path)
			return nil
		}

		s.entries[info.SHA] = &entry{state: Valid, info: info}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blobstore: scan: %w", err)
	}

	s.log.Info("blobstore: scan finished", "stats", s.Statistics())
	return nil
}

func (s *Store) shaToPath(sha string) string {
	return filepath.Join(s.root, sha[:2], sha+".zip")
}

// Exists probes the filesystem directly, bypassing the in-memory table.
func (s *Store) Exists(sha string) bool {
	fi, err := os.Stat(s.shaToPath(sha))
	return err == nil && fi.Mode().IsRegular()
}

func (s *Store) lookup(sha string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sha]
}

// Info returns the Info for sha, inspecting and caching it on demand if
// the entry isn't already known to be Valid.
func (s *Store) Info(sha string) (archive.Info, bool) {
	if e := s.lookup(sha); e != nil {
		e.mu.RLock()
		if e.state == Valid {
			info := e.info
			e.mu.RUnlock()
			return info, true
		}
		e.mu.RUnlock()
	}

	path := s.shaToPath(sha)
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		return archive.Info{}, false
	}

	info, err := archive.Inspect(path)
	if err != nil {
		return archive.Info{}, false
	}

	s.mu.Lock()
	e, ok := s.entries[sha]
	if !ok {
		e = &entry{}
		s.entries[sha] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	if e.state != Valid {
		e.state = Valid
		e.info = info
	}
	result := e.info
	e.mu.Unlock()
	return result, true
}

// Read returns a ReaderHandle for sha if the entry is Valid, or false if
// not. The handle holds a shared lock on the entry for its lifetime, so
// Remove cannot make progress against it until it is closed.
func (s *Store) Read(sha string) (*ReaderHandle, bool) {
	e := s.lookup(sha)
	if e == nil {
		return nil, false
	}

	e.mu.RLock()
	if e.state != Valid {
		e.mu.RUnlock()
		return nil, false
	}

	f, err := os.Open(s.shaToPath(sha))
	if err != nil {
		e.mu.RUnlock()
		return nil, false
	}

	return &ReaderHandle{f: f, e: e, info: e.info}, true
}

// Write returns a WriterHandle for sha, or ErrConflict if the sha is
// already Valid or already being written.
func (s *Store) Write(sha string) (*WriterHandle, error) {
	s.mu.Lock()
	e, ok := s.entries[sha]
	if !ok {
		// The stat and the insert below must happen under the same lock
		// acquisition as the absence check above, or two concurrent
		// first-time writers for the same sha can both observe !ok and both
		// proceed to open a writer against the same path.
		path := s.shaToPath(sha)
		if fi, statErr := os.Stat(path); statErr == nil && fi.Mode().IsRegular() {
			// Raced with the startup scan / another inspector: the file is
			// already there and complete, so this is effectively a
			// duplicate-upload conflict.
			info, err := archive.Inspect(path)
			if err == nil {
				s.entries[sha] = &entry{state: Valid, info: info}
			}
			s.mu.Unlock()
			return nil, ErrConflict
		}

		e = &entry{state: Writing}
		s.entries[sha] = e
		s.mu.Unlock()
		return s.openWriter(sha, e)
	}
	defer s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Valid, Writing:
		return nil, ErrConflict
	case Deleted:
		e.state = Writing
		e.info = archive.Info{}
		return s.openWriter(sha, e)
	default:
		return nil, ErrConflict
	}
}

func (s *Store) openWriter(sha string, e *entry) (*WriterHandle, error) {
	path := s.shaToPath(sha)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating shard dir: %w", err)
	}

	// Write directly to the final path, not a temp file: a crash mid-write
	// must leave a genuinely partial file, recoverable only by the next
	// startup scan. See DESIGN.md for why this departs from an
	// atomic-rename writer.
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening %s for write: %w", path, err)
	}

	return &WriterHandle{
		f:    f,
		path: path,
		e:    e,
		log:  s.log,
	}, nil
}

// AllInfos returns a snapshot of every Valid entry's Info. The snapshot is
// taken under a shared lock so all returned entries were simultaneously
// Valid, but the lock is not held after this call returns.
func (s *Store) AllInfos() []archive.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]archive.Info, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.RLock()
		if e.state == Valid {
			infos = append(infos, e.info)
		}
		e.mu.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SHA < infos[j].SHA })
	return infos
}

// Remove transitions sha to Deleted and unlinks its file, if currently
// Valid. It is a no-op if the entry is absent or already Deleted.
func (s *Store) Remove(sha string) {
	e := s.lookup(sha)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Valid {
		return
	}

	path := s.shaToPath(sha)
	s.log.Info("blobstore: deleting", "path", path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Error("blobstore: failed to unlink", "path", path, "error", err)
	}
	e.state = Deleted
}

// Statistics summarizes the current contents: count, distinct-package
// count, and total size.
func (s *Store) Statistics() string {
	infos := s.AllInfos()
	packages := make(map[string]struct{}, len(infos))
	var total int64
	for _, info := range infos {
		packages[info.Package] = struct{}{}
		total += info.Size
	}
	return fmt.Sprintf("%d caches of %d packages, using %d bytes", len(infos), len(packages), total)
}

// ensure io.ReadSeekCloser/io.WriteCloser are actually satisfied.
var (
	_ io.ReadSeekCloser = (*ReaderHandle)(nil)
	_ io.WriteCloser    = (*WriterHandle)(nil)
)
