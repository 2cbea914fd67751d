package pushrebase

import "context"

// diamondFileChanges implements §4.8's "diamond-merge additional file
// changes": for a merge commit M whose parents include one outside both
// the root and the rebased set, any path that changed between root and
// onto AND is still present in that outside parent's manifest gets a file
// change in M adopting onto's content (or a deletion), so the rebased
// merge doesn't silently diverge from onto on paths it should have picked
// up.
func diamondFileChanges(ctx context.Context, store Store, root, onto BcsId, mergeParents []BcsId, rebaseSet map[BcsId]bool) (map[string]*FileChange, error) {
	outside := false
	for _, p := range mergeParents {
		if p != root && !rebaseSet[p] {
			outside = true
			break
		}
	}
	if !outside {
		return nil, nil
	}

	diffPaths, err := store.ChangedFiles(ctx, root, onto)
	if err != nil {
		return nil, err
	}
	if len(diffPaths) == 0 {
		return nil, nil
	}

	stale := make(map[string]bool)
	for _, p := range mergeParents {
		if p == root || rebaseSet[p] {
			continue
		}
		manifest, err := store.ManifestPaths(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, path := range diffPaths {
			if manifest[path] {
				stale[path] = true
			}
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	out := make(map[string]*FileChange, len(stale))
	for path := range stale {
		fc, err := store.FileAt(ctx, onto, path)
		if err != nil {
			return nil, err
		}
		if fc == nil {
			out[path] = &FileChange{Path: path, Deleted: true}
			continue
		}
		fcCopy := *fc
		fcCopy.Path = path
		out[path] = &fcCopy
	}
	return out, nil
}
