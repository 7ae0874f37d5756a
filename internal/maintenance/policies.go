package maintenance

import (
	"time"

	"github.com/vcachehq/server/internal/metadb"
)

// policyMaxAge marks every non-deleted cache created before now-MaxAge.
func (m *Manager) policyMaxAge(tx *metadb.DB, now time.Time) ([]string, error) {
	if m.cfg.MaxAge == 0 {
		return nil, nil
	}
	cutoff := now.Add(-m.cfg.MaxAge)
	caches, err := tx.IterateCaches("created < ?", cutoff)
	if err != nil {
		return nil, err
	}
	return m.markAll(tx, caches)
}

// policyMaxUnused marks every non-deleted cache whose lastUsed is before
// now-MaxUnused. A cache that was never used has a zero-value lastUsed,
// which is older than any cutoff, so the plain "<" comparison already
// captures the sentinel case.
func (m *Manager) policyMaxUnused(tx *metadb.DB, now time.Time) ([]string, error) {
	if m.cfg.MaxUnused == 0 {
		return nil, nil
	}
	cutoff := now.Add(-m.cfg.MaxUnused)
	caches, err := tx.IterateCaches("last_used < ?", cutoff)
	if err != nil {
		return nil, err
	}
	return m.markAll(tx, caches)
}

// policyMaxPackageSize walks each over-budget package's non-deleted
// caches ordered lastUsed ASC, created ASC, marking caches until the
// accumulated size first exceeds the overflow. Strict ">" is intentional
// (spec.md §4.D / §9): this can leave exactly one cache of overshoot.
func (m *Manager) policyMaxPackageSize(tx *metadb.DB) ([]string, error) {
	if m.cfg.MaxPackageSize == 0 {
		return nil, nil
	}

	totals, err := tx.IteratePackageTotals(m.cfg.MaxPackageSize)
	if err != nil {
		return nil, err
	}

	var marked []string
	for _, pt := range totals {
		overflow := pt.TotalSize - m.cfg.MaxPackageSize

		caches, err := tx.IterateCaches("package_id = ?", pt.PackageID)
		if err != nil {
			return nil, err
		}

		var accumulated int64
		for _, c := range caches {
			if accumulated > overflow {
				break
			}
			if err := tx.UpdateDeletedFlag(c.ID); err != nil {
				return nil, err
			}
			marked = append(marked, c.SHA)
			accumulated += c.Size
		}
	}

	return marked, nil
}

// policyMaxTotalSize walks all non-deleted caches ordered lastUsed ASC,
// created ASC, marking until accumulated size first exceeds the overflow
// against the global ceiling. Same strict ">" rule as policy 3.
func (m *Manager) policyMaxTotalSize(tx *metadb.DB) ([]string, error) {
	if m.cfg.MaxTotalSize == 0 {
		return nil, nil
	}

	total, err := tx.TotalSize("")
	if err != nil {
		return nil, err
	}
	if total <= m.cfg.MaxTotalSize {
		return nil, nil
	}
	overflow := total - m.cfg.MaxTotalSize

	caches, err := tx.IterateCaches("")
	if err != nil {
		return nil, err
	}

	var marked []string
	var accumulated int64
	for _, c := range caches {
		if accumulated > overflow {
			break
		}
		if err := tx.UpdateDeletedFlag(c.ID); err != nil {
			return nil, err
		}
		marked = append(marked, c.SHA)
		accumulated += c.Size
	}
	return marked, nil
}

func (m *Manager) markAll(tx *metadb.DB, caches []metadb.Cache) ([]string, error) {
	shas := make([]string, 0, len(caches))
	for _, c := range caches {
		if err := tx.UpdateDeletedFlag(c.ID); err != nil {
			return nil, err
		}
		shas = append(shas, c.SHA)
	}
	return shas, nil
}
