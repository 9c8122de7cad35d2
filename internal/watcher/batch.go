package watcher

import (
	"sort"

	"github.com/celestius0/angular-cli/pkg/types"
)

// changeKind classifies a pending change for one path.
type changeKind int

const (
	kindNone changeKind = iota
	kindAdded
	kindRemoved
	kindModified
)

// mergeChange folds a new change into the pending change for the same path.
// The result reflects the net effect: a remove followed by a create is the
// atomic-rename save pattern and nets out as a modification; a create
// followed by a remove nets out to nothing.
func mergeChange(old, next changeKind) changeKind {
	if old == kindNone {
		return next
	}

	switch {
	case old == kindAdded && next == kindRemoved:
		return kindNone
	case old == kindRemoved && next == kindAdded:
		return kindModified
	case old == kindAdded:
		// added then modified is still an addition
		return kindAdded
	case next == kindRemoved:
		return kindRemoved
	default:
		return kindModified
	}
}

// batchFromPending converts the pending change map into an ordered batch.
func batchFromPending(pending map[string]changeKind) types.ChangeBatch {
	var batch types.ChangeBatch
	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		switch pending[path] {
		case kindAdded:
			batch.Added = append(batch.Added, path)
		case kindRemoved:
			batch.Removed = append(batch.Removed, path)
		case kindModified:
			batch.Modified = append(batch.Modified, path)
		}
	}
	return batch
}
