// Package metadb is the relational metadata index: packages, caches, and
// the append-only download ledger, per spec.md §3/§4.C.
//
// Grounded on mmdelhajj-ProRAD/backend/internal/models/radius.go for GORM
// model and tag conventions, and mmdelhajj-ProRAD/backend/internal/
// database/database.go for connection setup -- with the driver swapped
// from Postgres to SQLite (see DESIGN.md) to satisfy the spec's
// single-file embedded database requirement.
package metadb

import "time"

// Package is a family of caches sharing a name.
type Package struct {
	ID        uint       `gorm:"primaryKey"`
	Name      string     `gorm:"size:255;uniqueIndex;not null"`
	LastUsed  *time.Time `gorm:"index"`
	Downloads int64      `gorm:"not null;default:0"`
}

func (Package) TableName() string { return "packages" }

// Cache is one stored archive plus its metadata row.
type Cache struct {
	ID        uint      `gorm:"primaryKey"`
	SHA       string    `gorm:"size:64;uniqueIndex;not null"`
	PackageID uint      `gorm:"index;not null"`
	Package   Package   `gorm:"foreignKey:PackageID"`
	Created   time.Time `gorm:"index;not null"`
	IP        string    `gorm:"size:64"`
	User      string    `gorm:"size:255"`
	LastUsed  time.Time `gorm:"index"`
	Downloads int64     `gorm:"not null;default:0"`
	Size      int64     `gorm:"not null;default:0"`
	Deleted   bool      `gorm:"index;not null;default:false"`
}

func (Cache) TableName() string { return "caches" }

// Download is one recorded read event against a cache, append-only.
type Download struct {
	ID      uint      `gorm:"primaryKey"`
	CacheID uint      `gorm:"index;not null"`
	Cache   Cache     `gorm:"foreignKey:CacheID"`
	IP      string    `gorm:"size:64"`
	User    string    `gorm:"size:255"`
	Time    time.Time `gorm:"index;not null"`
}

func (Download) TableName() string { return "downloads" }
