package maintenance

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcachehq/server/internal/blobstore"
	"github.com/vcachehq/server/internal/metadb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*metadb.DB, *blobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := metadb.Open(dir + "/meta.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bs, err := blobstore.Open(dir+"/blobs", discardLogger())
	require.NoError(t, err)
	return db, bs
}

func seedCache(t *testing.T, db *metadb.DB, pkgName, sha string, created, lastUsed time.Time, size int64) metadb.Cache {
	t.Helper()
	pkgID, err := db.GetOrAddPackageId(pkgName)
	require.NoError(t, err)
	c, err := db.AddCache(metadb.Cache{
		SHA:       sha,
		PackageID: pkgID,
		Created:   created,
		LastUsed:  lastUsed,
		Size:      size,
	})
	require.NoError(t, err)
	return c
}

func TestMaxAgeEvictsOnlyOlderCaches(t *testing.T) {
	db, bs := setup(t)
	now := time.Now().UTC()

	seedCache(t, db, "foo", "old", now.Add(-10*24*time.Hour), now, 10)
	seedCache(t, db, "foo", "new", now.Add(-2*24*time.Hour), now, 10)

	mgr := New(db, bs, Config{MaxAge: 7 * 24 * time.Hour, Logger: discardLogger()})
	mgr.now = func() time.Time { return now }

	res := mgr.RunOnce()
	assert.Equal(t, []string{"old"}, res.Deleted)

	_, err := db.GetCacheId("new")
	require.NoError(t, err)
}

func TestDryRunDoesNotMutateOrUnlink(t *testing.T) {
	db, bs := setup(t)
	now := time.Now().UTC()

	seedCache(t, db, "foo", "old", now.Add(-10*24*time.Hour), now, 10)

	mgr := New(db, bs, Config{MaxAge: 7 * 24 * time.Hour, DryRun: true, Logger: discardLogger()})
	mgr.now = func() time.Time { return now }

	res := mgr.RunOnce()
	assert.Equal(t, []string{"old"}, res.Deleted)
	assert.True(t, res.DryRun)

	caches, err := db.IterateCaches("")
	require.NoError(t, err)
	assert.Len(t, caches, 1, "dry run must not persist the deleted flag")
}

func TestMaxTotalSizeEvictsLRUFirstWithOvershootTolerance(t *testing.T) {
	db, bs := setup(t)
	base := time.Now().UTC().Add(-time.Hour)

	seedCache(t, db, "foo", "t1", base, base, 100)
	seedCache(t, db, "foo", "t2", base.Add(time.Minute), base.Add(time.Minute), 100)
	seedCache(t, db, "foo", "t3", base.Add(2*time.Minute), base.Add(2*time.Minute), 100)

	mgr := New(db, bs, Config{MaxTotalSize: 150, Logger: discardLogger()})

	res := mgr.RunOnce()
	assert.ElementsMatch(t, []string{"t1", "t2"}, res.Deleted)

	total, err := db.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestMaxPackageSizeOnlyEvictsOverBudgetPackage(t *testing.T) {
	db, bs := setup(t)
	base := time.Now().UTC().Add(-time.Hour)

	seedCache(t, db, "big", "b1", base, base, 100)
	seedCache(t, db, "big", "b2", base.Add(time.Minute), base.Add(time.Minute), 100)
	seedCache(t, db, "small", "s1", base, base, 10)

	mgr := New(db, bs, Config{MaxPackageSize: 50, Logger: discardLogger()})

	res := mgr.RunOnce()
	assert.Contains(t, res.Deleted, "b1")
	assert.NotContains(t, res.Deleted, "s1")
}
