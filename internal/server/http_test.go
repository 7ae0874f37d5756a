package server

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcachehq/server/internal/blobstore"
	"github.com/vcachehq/server/internal/metadb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArchiveBytes(t *testing.T, pkg string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("CONTROL")
	require.NoError(t, err)
	_, err = w.Write([]byte("Package: " + pkg + "\nVersion: 1.2\nArchitecture: x64\n"))
	require.NoError(t, err)
	w, err = zw.Create("share/" + pkg + "/vcpkg_abi_info.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("compiler abc\nflag def\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	bs, err := blobstore.Open(filepath.Join(dir, "blobs"), discardLogger())
	require.NoError(t, err)

	db, err := metadb.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	auth := NewAuthFilter(map[string]string{"tok": "alice"})
	return New(Config{Logger: discardLogger()}, bs, db, nil, auth)
}

const testSHA = "111111111111111111111111111111111111111111111111111111111111aaaa"

func TestFreshUploadThenDownload(t *testing.T) {
	s := newTestServer(t)
	body := testArchiveBytes(t, "foo")

	put := httptest.NewRequest(http.MethodPut, "/cache/"+testSHA, bytes.NewReader(body))
	put.Header.Set("Authorization", "Bearer tok")
	put.SetPathValue("sha", testSHA)
	putRec := httptest.NewRecorder()
	s.handlePutCache(putRec, put)
	require.Equal(t, http.StatusOK, putRec.Code)

	get := httptest.NewRequest(http.MethodGet, "/cache/"+testSHA, nil)
	get.SetPathValue("sha", testSHA)
	getRec := httptest.NewRecorder()
	s.handleGetCache(getRec, get)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, body, getRec.Body.Bytes())

	cacheID, err := s.db.GetCacheId(testSHA)
	require.NoError(t, err)
	assert.NotZero(t, cacheID)
}

func TestGetCacheMissIs404(t *testing.T) {
	s := newTestServer(t)
	get := httptest.NewRequest(http.MethodGet, "/cache/"+testSHA, nil)
	get.SetPathValue("sha", testSHA)
	rec := httptest.NewRecorder()
	s.handleGetCache(rec, get)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutCacheWithoutAuthIs401(t *testing.T) {
	s := newTestServer(t)
	put := httptest.NewRequest(http.MethodPut, "/cache/"+testSHA, bytes.NewReader(testArchiveBytes(t, "foo")))
	put.SetPathValue("sha", testSHA)
	rec := httptest.NewRecorder()
	s.handlePutCache(rec, put)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDuplicateUploadConflicts(t *testing.T) {
	s := newTestServer(t)
	body := testArchiveBytes(t, "foo")

	first := httptest.NewRequest(http.MethodPut, "/cache/"+testSHA, bytes.NewReader(body))
	first.Header.Set("Authorization", "Bearer tok")
	first.SetPathValue("sha", testSHA)
	firstRec := httptest.NewRecorder()
	s.handlePutCache(firstRec, first)
	require.Equal(t, http.StatusOK, firstRec.Code)

	second := httptest.NewRequest(http.MethodPut, "/cache/"+testSHA, bytes.NewReader(body))
	second.Header.Set("Authorization", "Bearer tok")
	second.SetPathValue("sha", testSHA)
	secondRec := httptest.NewRecorder()
	s.handlePutCache(secondRec, second)
	assert.Equal(t, http.StatusConflict, secondRec.Code)
}

func TestMalformedShaIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	get := httptest.NewRequest(http.MethodGet, "/cache/not-a-sha", nil)
	get.SetPathValue("sha", "not-a-sha")
	rec := httptest.NewRecorder()
	s.handleGetCache(rec, get)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
