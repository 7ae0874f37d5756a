package metadb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetOrAddPackageIdIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	id1, err := db.GetOrAddPackageId("foo")
	require.NoError(t, err)

	id2, err := db.GetOrAddPackageId("foo")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestAddCacheAndUpdateLastUse(t *testing.T) {
	db := newTestDB(t)

	pkgID, err := db.GetOrAddPackageId("foo")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	c, err := db.AddCache(Cache{
		SHA:       "abc123",
		PackageID: pkgID,
		Created:   now,
		LastUsed:  now,
		Size:      1024,
	})
	require.NoError(t, err)
	require.NotZero(t, c.ID)

	require.NoError(t, db.UpdateLastUse(c.ID, now.Add(time.Hour)))

	id, err := db.GetCacheId("abc123")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)
}

func TestGetCacheIdNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetCacheId("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTotalSizeAndIterateCachesOrder(t *testing.T) {
	db := newTestDB(t)
	pkgID, err := db.GetOrAddPackageId("foo")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	_, err = db.AddCache(Cache{SHA: "s1", PackageID: pkgID, Created: base, LastUsed: base, Size: 100})
	require.NoError(t, err)
	_, err = db.AddCache(Cache{SHA: "s2", PackageID: pkgID, Created: base.Add(time.Minute), LastUsed: base.Add(time.Minute), Size: 200})
	require.NoError(t, err)

	total, err := db.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(300), total)

	rows, err := db.IterateCaches("")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "s1", rows[0].SHA)
	assert.Equal(t, "s2", rows[1].SHA)
}

func TestUpdateDeletedFlagExcludesFromTotalSize(t *testing.T) {
	db := newTestDB(t)
	pkgID, err := db.GetOrAddPackageId("foo")
	require.NoError(t, err)

	now := time.Now().UTC()
	c, err := db.AddCache(Cache{SHA: "s1", PackageID: pkgID, Created: now, LastUsed: now, Size: 100})
	require.NoError(t, err)

	require.NoError(t, db.UpdateDeletedFlag(c.ID))

	total, err := db.TotalSize("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}
