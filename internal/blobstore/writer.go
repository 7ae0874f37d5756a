package blobstore

import (
	"log/slog"
	"os"

	"github.com/vcachehq/server/internal/archive"
)

// WriterHandle is an open write stream for an in-progress upload. Closing
// it finalizes the entry: inspects the completed file and transitions the
// entry from Writing to Valid. A close that fails to produce an Info
// leaves the entry in Writing -- a recoverable inconsistency resolved by
// the next startup scan, matching original_source/src/store.cpp's
// StoreWriter destructor.
type WriterHandle struct {
	f        *os.File
	path     string
	e        *entry
	log      *slog.Logger
	closed   bool
	finalErr error
}

// Write implements io.Writer.
func (w *WriterHandle) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close finalizes the upload: it closes the underlying file, inspects it,
// and -- on success -- publishes the new Info and transitions the entry
// to Valid. If inspection fails, the entry is left in Writing and the
// error is returned; callers should log and respond success per the
// PUT handler contract, trusting the next scan to reconcile.
func (w *WriterHandle) Close() error {
	if w.closed {
		return w.finalErr
	}
	w.closed = true

	if err := w.f.Close(); err != nil {
		w.log.Error("blobstore: failed to close writer", "path", w.path, "error", err)
		w.finalErr = err
		return err
	}

	info, err := archive.Inspect(w.path)
	if err != nil {
		w.log.Warn("blobstore: failed to finalize upload, leaving entry in writing state",
			"path", w.path, "error", err)
		w.finalErr = err
		return err
	}

	w.e.mu.Lock()
	w.e.info = info
	w.e.state = Valid
	w.e.mu.Unlock()

	return nil
}

// Info returns the finalized Info after a successful Close, or the zero
// value if Close has not succeeded yet.
func (w *WriterHandle) Info() archive.Info {
	w.e.mu.RLock()
	defer w.e.mu.RUnlock()
	return w.e.info
}
