// Package telemetry provides structured metrics and per-request tagging
// for the cache server, trimmed from the teacher's telemetry package down
// to this domain's instruments.
//
// Grounded on telemetry/tags.go (context-tag injection pattern, kept
// near-verbatim) and telemetry/metrics.go (otel/Prometheus bootstrap,
// heavily trimmed -- every S3-FIFO and multi-protocol instrument dropped,
// see DESIGN.md).
package telemetry

import (
	"context"
	"net/http"
)

type contextKey int

const tagsKey contextKey = iota

// CacheResult classifies how a cache GET was served.
type CacheResult string

const (
	CacheHit  CacheResult = "hit"
	CacheMiss CacheResult = "miss"
)

// RequestTags are mutable, per-request values handlers set and the
// logging middleware reads back out.
type RequestTags struct {
	Endpoint    string
	CacheResult CacheResult
}

// InjectTags attaches a fresh RequestTags to the request's context and
// returns the updated request.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{}
	return r.WithContext(context.WithValue(r.Context(), tagsKey, tags))
}

// GetTags returns the RequestTags attached to r, or a zero-value one if
// none were injected.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(tagsKey).(*RequestTags); ok {
		return tags
	}
	return &RequestTags{}
}

// SetEndpoint records which logical endpoint handled the request.
func SetEndpoint(r *http.Request, endpoint string) {
	GetTags(r).Endpoint = endpoint
}

// SetCacheResult records whether a cache GET hit or missed.
func SetCacheResult(r *http.Request, result CacheResult) {
	GetTags(r).CacheResult = result
}

// StatusClass buckets an HTTP status into its "2xx"/"4xx"/... class for
// low-cardinality log/metric grouping.
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
