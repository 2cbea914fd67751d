package pushrebase

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"
)

// nowStamp is the wall-clock time recorded as the remapping timestamp of
// the root seed and, when RewriteDates is set, as the new author date of
// rebased changesets (whose remapping timestamp is that author date).
func nowStamp() time.Time { return time.Now().UTC() }

// bcsIDOf computes a bonsai changeset's content id: the sha256 of a
// stable, sorted textual encoding of its fields. This is deliberately not
// the canonical wire format (that lives in the changeset package, which
// also handles hg-changeset derivation) — here it only needs to be
// deterministic and collision-resistant enough to key the in-flight
// remapping during a single rebase.
func bcsIDOf(cs *Changeset) BcsId {
	h := sha256.New()
	for _, p := range cs.Parents {
		fmt.Fprintf(h, "parent %s\n", p)
	}
	fmt.Fprintf(h, "author %s\n", cs.Author)
	fmt.Fprintf(h, "date %s\n", cs.AuthorDate.Format(time.RFC3339Nano))
	fmt.Fprintf(h, "message %s\n", cs.Message)

	extraKeys := make([]string, 0, len(cs.Extra))
	for k := range cs.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		fmt.Fprintf(h, "extra %s %s\n", k, cs.Extra[k])
	}

	pathKeys := make([]string, 0, len(cs.FileChanges))
	for p := range cs.FileChanges {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)
	for _, p := range pathKeys {
		fc := cs.FileChanges[p]
		if fc.Deleted {
			fmt.Fprintf(h, "file %s deleted\n", p)
			continue
		}
		if fc.CopyFrom != nil {
			fmt.Fprintf(h, "file %s content %s copyfrom %s %s\n", p, fc.ContentID, fc.CopyFrom.Path, fc.CopyFrom.FromID)
		} else {
			fmt.Fprintf(h, "file %s content %s\n", p, fc.ContentID)
		}
	}

	var out BcsId
	copy(out[:], h.Sum(nil))
	return out
}
