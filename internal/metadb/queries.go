package metadb

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup by sha or id finds nothing.
var ErrNotFound = errors.New("metadb: not found")

// GetOrAddPackageId returns the id of the package named name, creating it
// if absent. Idempotent under concurrent callers via the unique index on
// name.
func (d *DB) GetOrAddPackageId(name string) (uint, error) {
	var pkg Package
	err := d.g.Where(Package{Name: name}).FirstOrCreate(&pkg, Package{Name: name}).Error
	if err != nil {
		// A concurrent caller may have inserted the same name between the
		// lookup and the insert; the unique index rejects this insert, so
		// read back the row that won.
		var existing Package
		if ferr := d.g.Where("name = ?", name).First(&existing).Error; ferr == nil {
			return existing.ID, nil
		}
		return 0, err
	}
	return pkg.ID, nil
}

// GetCacheId returns the id of the cache with the given sha, or
// ErrNotFound.
func (d *DB) GetCacheId(sha string) (uint, error) {
	var c Cache
	err := d.g.Where("sha = ?", sha).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// AddCache inserts row and returns it with its id populated.
func (d *DB) AddCache(row Cache) (Cache, error) {
	if err := d.g.Create(&row).Error; err != nil {
		return Cache{}, err
	}
	return row, nil
}

// AddDownload inserts row and returns it with its id populated.
func (d *DB) AddDownload(row Download) (Download, error) {
	if err := d.g.Create(&row).Error; err != nil {
		return Download{}, err
	}
	return row, nil
}

// UpdateLastUse performs the spec's single transactional update: bumps
// Cache.lastUsed/downloads and the owning Package.lastUsed/downloads.
func (d *DB) UpdateLastUse(cacheID uint, now time.Time) error {
	return d.g.Transaction(func(tx *gorm.DB) error {
		var c Cache
		if err := tx.First(&c, cacheID).Error; err != nil {
			return err
		}

		if err := tx.Model(&c).Updates(map[string]any{
			"last_used": now,
			"downloads": gorm.Expr("downloads + 1"),
		}).Error; err != nil {
			return err
		}

		return tx.Model(&Package{}).Where("id = ?", c.PackageID).Updates(map[string]any{
			"last_used": now,
			"downloads": gorm.Expr("downloads + 1"),
		}).Error
	})
}

// UpdateDeletedFlag tombstones the cache row with the given id.
func (d *DB) UpdateDeletedFlag(cacheID uint) error {
	return d.g.Model(&Cache{}).Where("id = ?", cacheID).Update("deleted", true).Error
}

// TotalSize returns SUM(size) over non-deleted caches, optionally scoped
// by a caller-supplied WHERE fragment and args (e.g. a package filter).
func (d *DB) TotalSize(where string, args ...any) (int64, error) {
	q := d.g.Model(&Cache{}).Where("deleted = ?", false)
	if where != "" {
		q = q.Where(where, args...)
	}
	var total int64
	if err := q.Select("COALESCE(SUM(size), 0)").Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// PackageTotal is one row of IteratePackageTotals.
type PackageTotal struct {
	PackageID uint
	Name      string
	TotalSize int64
}

// IteratePackageTotals returns, for each package whose non-deleted caches
// sum to more than minSize, its total size, name and id.
func (d *DB) IteratePackageTotals(minSize int64) ([]PackageTotal, error) {
	var rows []PackageTotal
	err := d.g.Model(&Cache{}).
		Select("caches.package_id as package_id, packages.name as name, SUM(caches.size) as total_size").
		Joins("JOIN packages ON packages.id = caches.package_id").
		Where("caches.deleted = ?", false).
		Group("caches.package_id, packages.name").
		Having("SUM(caches.size) > ?", minSize).
		Scan(&rows).Error
	return rows, err
}

// IterateCaches returns non-deleted caches matching the optional where
// fragment, ordered lastUsed ASC, created ASC (the eviction walk order).
func (d *DB) IterateCaches(where string, args ...any) ([]Cache, error) {
	q := d.g.Where("deleted = ?", false)
	if where != "" {
		q = q.Where(where, args...)
	}
	var rows []Cache
	err := q.Order("last_used ASC, created ASC").Find(&rows).Error
	return rows, err
}

// PackageRow is one row of ListPackages.
type PackageRow struct {
	ID         uint
	Name       string
	LastUsed   *time.Time
	Downloads  int64
	CacheCount int64
	TotalSize  int64
}

// ListPackages returns every package with its cache count and total
// non-deleted size, for the index page.
func (d *DB) ListPackages() ([]PackageRow, error) {
	var rows []PackageRow
	err := d.g.Model(&Package{}).
		Select(`packages.id as id, packages.name as name, packages.last_used as last_used,
			packages.downloads as downloads,
			COUNT(caches.id) as cache_count, COALESCE(SUM(caches.size), 0) as total_size`).
		Joins("LEFT JOIN caches ON caches.package_id = packages.id AND caches.deleted = ?", false).
		Group("packages.id, packages.name, packages.last_used, packages.downloads").
		Scan(&rows).Error
	return rows, err
}

// ListCachesForPackage returns every non-deleted cache row for the named
// package, newest first.
func (d *DB) ListCachesForPackage(name string) ([]Cache, error) {
	var rows []Cache
	err := d.g.Joins("JOIN packages ON packages.id = caches.package_id").
		Where("packages.name = ? AND caches.deleted = ?", name, false).
		Order("caches.created DESC").
		Find(&rows).Error
	return rows, err
}

// DownloadRow is one rendered row of the download ledger.
type DownloadRow struct {
	ID          uint
	CacheSHA    string
	PackageName string
	IP          string
	User        string
	Time        time.Time
}

// ListDownloads returns a page of the download ledger, optionally filtered
// by a single column/value pair (selcol/selval), sorted by sortCol, paged
// by offset/limit.
var downloadSortColumns = map[string]string{
	"time":    "downloads.time",
	"user":    "downloads.user",
	"ip":      "downloads.ip",
	"package": "packages.name",
	"sha":     "caches.sha",
}

func (d *DB) ListDownloads(sortCol, order, selcol, selval string, offset, limit int) ([]DownloadRow, error) {
	col, ok := downloadSortColumns[sortCol]
	if !ok {
		col = "downloads.time"
	}
	if order != "asc" {
		order = "desc"
	}

	q := d.g.Table("downloads").
		Select("downloads.id as id, caches.sha as cache_sha, packages.name as package_name, downloads.ip as ip, downloads.user as user, downloads.time as time").
		Joins("JOIN caches ON caches.id = downloads.cache_id").
		Joins("JOIN packages ON packages.id = caches.package_id")

	if selcol != "" && selval != "" {
		switch selcol {
		case "package":
			q = q.Where("packages.name = ?", selval)
		case "sha":
			q = q.Where("caches.sha = ?", selval)
		case "user":
			q = q.Where("downloads.user = ?", selval)
		}
	}

	var rows []DownloadRow
	err := q.Order(fmt.Sprintf("%s %s", col, order)).Offset(offset).Limit(limit).Scan(&rows).Error
	return rows, err
}

// Transaction runs fn inside a single DB transaction, matching
// metadb.Transaction semantics used by the maintenance loop: commit on
// nil return, rollback on error or panic.
func (d *DB) Transaction(fn func(tx *DB) error) error {
	return d.g.Transaction(func(gtx *gorm.DB) error {
		return fn(&DB{g: gtx})
	})
}
