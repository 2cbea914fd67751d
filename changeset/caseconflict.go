package changeset

import "strings"

// CheckCaseConflicts implements §4.9 step 4: for each new path, walk its
// parent directory chain; if a path element collides case-insensitively
// with an existing sibling and that sibling is still present in the child
// manifest, it's a conflict. Returns the first conflicting pair found, if
// any.
func CheckCaseConflicts(result *BuildResult) (path, conflictsWith string, found bool) {
	lowerToPaths := make(map[string][]string, len(result.Manifest))
	for p := range result.Manifest {
		for _, seg := range pathAndAncestorDirs(p) {
			lower := strings.ToLower(seg)
			lowerToPaths[lower] = appendUnique(lowerToPaths[lower], seg)
		}
	}

	for _, newPath := range result.ChangedPaths {
		if _, stillPresent := result.Manifest[newPath]; !stillPresent {
			continue
		}
		for _, seg := range pathAndAncestorDirs(newPath) {
			lower := strings.ToLower(seg)
			for _, other := range lowerToPaths[lower] {
				if other != seg {
					return seg, other, true
				}
			}
		}
	}
	return "", "", false
}

// pathAndAncestorDirs returns p itself plus every ancestor directory
// prefix, e.g. "a/b/c.txt" -> ["a/b/c.txt", "a/b", "a"].
func pathAndAncestorDirs(p string) []string {
	out := []string{p}
	for {
		idx := strings.LastIndexByte(p, '/')
		if idx < 0 {
			return out
		}
		p = p[:idx]
		out = append(out, p)
	}
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
