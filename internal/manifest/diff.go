// internal/manifest/diff.go
package manifest

import (
	"sort"

	"muse/internal/model"
)

// Diff compares two snapshot manifests. A path in both with different
// object ids is changed; only in target is added; only in base is
// removed. Pure function, no I/O; output lists are sorted so every
// caller sees deterministic order.
func Diff(base, target model.Manifest) *model.DiffResult {
	result := &model.DiffResult{
		Changed: []string{},
		Added:   []string{},
		Removed: []string{},
	}

	for path, id := range target {
		baseID, ok := base[path]
		switch {
		case !ok:
			result.Added = append(result.Added, path)
		case baseID != id:
			result.Changed = append(result.Changed, path)
		}
	}

	for path := range base {
		if _, ok := target[path]; !ok {
			result.Removed = append(result.Removed, path)
		}
	}

	sort.Strings(result.Changed)
	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	return result
}
