// Package changeset derives Mercurial changesets from bonsai changesets
// (C9): per-bcs leasing, manifest construction via the filecommit parent
// rules, case-conflict checking, and bonsai<->hg mapping persistence.
package changeset

import (
	"sort"

	"github.com/scmforge/scmcore/hg"
	"github.com/scmforge/scmcore/lfs/pointerstore"
	"github.com/scmforge/scmcore/pushrebase"
)

// ManifestEntry is one path's tree-manifest entry.
type ManifestEntry struct {
	FileNode   pointerstore.HgId
	Symlink    bool
	Executable bool
}

// Manifest is the flattened path -> entry view of an hg tree manifest.
type Manifest map[string]ManifestEntry

// FileNodeStore creates new file-node revisions and answers ancestry
// queries within one path's file-node history.
type FileNodeStore interface {
	// NewFileNode uploads a new file revision and returns its file-node id.
	NewFileNode(path string, contentID string, parents hg.FileNodeParents) (pointerstore.HgId, error)
	// ContentIDOf returns the content id a given file-node id was created
	// with, for the reuse check in BuildManifest.
	ContentIDOf(id pointerstore.HgId) (string, error)
	// IsAncestor reports whether a is an ancestor of (or equal to) b within
	// path's file-node history.
	IsAncestor(path string, a, b pointerstore.HgId) (bool, error)
}

// BuildResult is BuildManifest's output: the new manifest and the sorted
// list of changed paths for the hg changeset's file list.
type BuildResult struct {
	Manifest     Manifest
	ChangedPaths []string
}

// BuildManifest implements §4.9 step 3: merge the parent manifests, then
// for each file change either reuse an existing file-node (3a) or elect new
// file-node parents and upload a fresh revision (3b).
func BuildManifest(parentManifests []Manifest, changes map[string]*pushrebase.FileChange, fileNodes FileNodeStore) (*BuildResult, error) {
	merged := make(Manifest, len(changes))
	for _, pm := range parentManifests {
		for path, entry := range pm {
			merged[path] = entry
		}
	}

	changedPaths := make([]string, 0, len(changes))
	for path, fc := range changes {
		changedPaths = append(changedPaths, path)
		if fc.Deleted {
			delete(merged, path)
			continue
		}

		if reused, ok, err := tryReuse(parentManifests, path, fc, fileNodes); err != nil {
			return nil, err
		} else if ok {
			merged[path] = reused
			continue
		}

		p1, p2 := lookupParentFileNodes(parentManifests, path)
		copiedFromDifferentPath := fc.CopyFrom != nil && fc.CopyFrom.Path != path

		var ancestryErr error
		isAncestor := func(a, b pointerstore.HgId) bool {
			ok, err := fileNodes.IsAncestor(path, a, b)
			if err != nil {
				ancestryErr = err
			}
			return ok
		}
		elected := hg.ElectFileNodeParents(p1, p2, copiedFromDifferentPath, isAncestor)
		if ancestryErr != nil {
			return nil, ancestryErr
		}

		id, err := fileNodes.NewFileNode(path, fc.ContentID, elected)
		if err != nil {
			return nil, err
		}
		merged[path] = ManifestEntry{FileNode: id}
	}

	sort.Strings(changedPaths)
	return &BuildResult{Manifest: merged, ChangedPaths: changedPaths}, nil
}

func lookupParentFileNodes(parentManifests []Manifest, path string) (*pointerstore.HgId, *pointerstore.HgId) {
	var ids []pointerstore.HgId
	for _, pm := range parentManifests {
		if e, ok := pm[path]; ok {
			ids = append(ids, e.FileNode)
		}
	}
	switch len(ids) {
	case 0:
		return nil, nil
	case 1:
		return &ids[0], nil
	default:
		return &ids[0], &ids[1]
	}
}

// tryReuse implements step 3a: if exactly one parent manifest has an entry
// at path, and its file-node was created from the same content id, and the
// change carries no copy-from, reuse that file-node instead of uploading.
func tryReuse(parentManifests []Manifest, path string, fc *pushrebase.FileChange, fileNodes FileNodeStore) (ManifestEntry, bool, error) {
	if fc.CopyFrom != nil {
		return ManifestEntry{}, false, nil
	}
	var match *ManifestEntry
	count := 0
	for _, pm := range parentManifests {
		if e, ok := pm[path]; ok {
			count++
			if match == nil {
				e2 := e
				match = &e2
			}
		}
	}
	if count != 1 || match == nil {
		return ManifestEntry{}, false, nil
	}
	contentID, err := fileNodes.ContentIDOf(match.FileNode)
	if err != nil {
		return ManifestEntry{}, false, err
	}
	if contentID != fc.ContentID {
		return ManifestEntry{}, false, nil
	}
	return *match, true, nil
}
