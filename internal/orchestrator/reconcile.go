package orchestrator

import "sort"

// reconcile computes the watch-set delta between two consecutive builds.
// toAdd holds paths requested by the latest build but not yet watched;
// toRemove holds previously watched paths the latest build no longer needs.
//
// When the latest build failed its watch list may be truncated (the backend
// stopped early), so nothing is removed: coverage from the last good build
// is preserved and only new paths are added. Without this, a syntax error
// in a central file would unwatch the very files whose fix must trigger the
// recovery rebuild.
func reconcile(watched map[string]struct{}, latest []string, failed bool) (toAdd, toRemove []string) {
	requested := make(map[string]struct{}, len(latest))
	for _, path := range latest {
		requested[path] = struct{}{}
		if _, ok := watched[path]; !ok {
			toAdd = append(toAdd, path)
		}
	}

	if !failed {
		for path := range watched {
			if _, ok := requested[path]; !ok {
				toRemove = append(toRemove, path)
			}
		}
	}

	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}
