// Package server wires the blob store, metadata DB, maintenance manager
// and ABI/fuzzy engines into the HTTP surface: the cache GET/PUT core
// contract plus the browsable UI.
//
// Grounded on server/http.go's Server/registerRoutes/loggingMiddleware
// shape, with the protocol-specific handlers replaced by this domain's
// cache and UI routes.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vcachehq/server/internal/blobstore"
	"github.com/vcachehq/server/internal/maintenance"
	"github.com/vcachehq/server/internal/metadb"
	"github.com/vcachehq/server/internal/telemetry"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Config holds server configuration.
type Config struct {
	Address string
	Logger  *slog.Logger
	// CertFile/KeyFile, if both set, serve TLS.
	CertFile string
	KeyFile  string
}

// Server is the HTTP server for the binary cache.
type Server struct {
	cfg Config
	log *slog.Logger

	blobs *blobstore.Store
	db    *metadb.DB
	maint *maintenance.Manager
	auth  *AuthFilter

	httpServer *http.Server
}

// New wires blobs, db, maint, and auth into an HTTP server ready to Start.
func New(cfg Config, blobs *blobstore.Store, db *metadb.DB, maint *maintenance.Manager, auth *AuthFilter) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{cfg: cfg, log: cfg.Logger, blobs: blobs, db: db, maint: maint, auth: auth}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.loggingMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cache/{sha}", s.handleGetCache)
	mux.HandleFunc("PUT /cache/{sha}", s.handlePutCache)

	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /find/{package}", s.handleFind)
	mux.HandleFunc("GET /package/{sha}", s.handlePackageDetail)
	mux.HandleFunc("GET /match", s.handleMatchForm)
	mux.HandleFunc("POST /match", s.handleMatchSubmit)
	mux.HandleFunc("GET /compare/{sha}", s.handleCompare)
	mux.HandleFunc("GET /downloads", s.handleDownloads)

	mux.HandleFunc("GET /favicon.svg", s.handleStaticSVG)
	mux.HandleFunc("GET /maskicon.svg", s.handleStaticSVG)
	mux.HandleFunc("GET /script/{name}", s.handleScript)

	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
}

// handleGetCache implements the core download contract of spec.md §4.E:
// obtain a ReaderHandle, log the access, bump the download ledger, and
// stream the archive via http.ServeContent -- the stdlib's own
// (offset,length)-driven content provider, so the handle just needs to
// satisfy io.ReadSeeker for the duration of the response.
func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache.get")
	sha := r.PathValue("sha")
	if !shaPattern.MatchString(sha) {
		http.Error(w, "malformed sha", http.StatusBadRequest)
		return
	}

	handle, ok := s.blobs.Read(sha)
	if !ok {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
		http.NotFound(w, r)
		return
	}
	defer handle.Close()
	telemetry.SetCacheResult(r, telemetry.CacheHit)

	cacheID, err := s.db.GetCacheId(sha)
	if err == nil {
		now := time.Now().UTC()
		if _, derr := s.db.AddDownload(metadb.Download{CacheID: cacheID, IP: remoteIP(r), Time: now}); derr != nil {
			s.log.Warn("server: failed to record download", "sha", sha, "error", derr)
		}
		if uerr := s.db.UpdateLastUse(cacheID, now); uerr != nil {
			s.log.Warn("server: failed to update last use", "sha", sha, "error", uerr)
		}
		telemetry.RecordDownload(r.Context(), handle.Info().Size)
	} else {
		s.log.Warn("server: cache row missing for known blob", "sha", sha, "error", err)
	}

	info := handle.Info()
	w.Header().Set("Content-Type", "application/zip")
	http.ServeContent(w, r, sha+".zip", info.MTime, handle)
}

// handlePutCache implements the core upload contract of spec.md §4.E.
func (s *Server) handlePutCache(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache.put")
	sha := r.PathValue("sha")
	if !shaPattern.MatchString(sha) {
		http.Error(w, "malformed sha", http.StatusBadRequest)
		return
	}

	user, ok := s.auth.Authenticate(w, r)
	if !ok {
		return
	}

	writer, err := s.blobs.Write(sha)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	size, copyErr := copyBody(writer, r)
	closeErr := writer.Close()

	if copyErr != nil {
		s.log.Error("server: upload body read failed", "sha", sha, "error", copyErr)
		http.Error(w, copyErr.Error(), http.StatusInternalServerError)
		return
	}
	if closeErr != nil {
		// Inspection failed; the entry is left in Writing, recoverable on
		// the next startup scan. Per spec.md §4.E, respond success anyway.
		s.log.Warn("server: upload finalize failed, leaving writing state", "sha", sha, "error", closeErr)
		telemetry.RecordInspectFailure(r.Context())
		w.WriteHeader(http.StatusOK)
		return
	}

	info := writer.Info()
	pkgID, err := s.db.GetOrAddPackageId(info.Package)
	if err != nil {
		s.log.Error("server: failed to record package", "sha", sha, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	if _, err := s.db.AddCache(metadb.Cache{
		SHA:       sha,
		PackageID: pkgID,
		Created:   now,
		IP:        remoteIP(r),
		User:      user,
		LastUsed:  now,
		Size:      size,
	}); err != nil {
		s.log.Error("server: failed to record cache row", "sha", sha, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	telemetry.RecordUpload(r.Context(), size)
	w.WriteHeader(http.StatusOK)
}

func copyBody(w *blobstore.WriterHandle, r *http.Request) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loggingMiddleware logs every request with structured fields and records
// OTel metrics, adapted from server/http.go's responseWriter-wrapping
// middleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		s.log.Info("http request", attrs...)
		telemetry.RecordHTTP(r.Context(), wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server. It blocks until Shutdown is called.
func (s *Server) Start() error {
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		s.log.Info("server: listening with TLS", "address", s.cfg.Address)
		return s.httpServer.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	}
	s.log.Info("server: listening", "address", s.cfg.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}

// responseWriter wraps http.ResponseWriter to capture status and bytes
// written, preserving Flusher/Hijacker for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
