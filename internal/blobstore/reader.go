package blobstore

import (
	"os"

	"github.com/vcachehq/server/internal/archive"
)

// ReaderHandle is an open read stream over a Valid blob, plus the shared
// lock that keeps its entry from transitioning to Deleted while the
// handle is alive. Readers and writers are modeled as two distinct types
// rather than a shared interface, since they share no real structure.
type ReaderHandle struct {
	f        *os.File
	e        *entry
	info     archive.Info
	released bool
}

// Info returns the Info snapshot captured when the handle was opened.
func (r *ReaderHandle) Info() archive.Info {
	return r.info
}

// Read implements io.Reader.
func (r *ReaderHandle) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

// Seek implements io.Seeker, so the handle can back http.ServeContent's
// offset/length-driven streaming directly.
func (r *ReaderHandle) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

// Close releases the underlying file and the entry's shared lock. It is
// safe to call more than once.
func (r *ReaderHandle) Close() error {
	if r.released {
		return nil
	}
	r.released = true
	r.e.mu.RUnlock()
	return r.f.Close()
}
