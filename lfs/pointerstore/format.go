// Package pointerstore implements the pointer store (C2): an append-only
// indexed log mapping HgId -> LfsPointer, with two secondary indexes and
// the §4.2 pointer text format.
package pointerstore

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/scmforge/scmcore/content"
)

// HgId is the Mercurial file-node identifier, 20 raw bytes hex-encoded.
type HgId [20]byte

// String hex-encodes the id.
func (h HgId) String() string { return fmt.Sprintf("%x", h[:]) }

// ParseHgId decodes a 40-character hex hg id.
func ParseHgId(s string) (HgId, error) {
	var h HgId
	if len(s) != 40 {
		return h, fmt.Errorf("pointerstore: hgid hex must be 40 chars, got %d", len(s))
	}
	b, err := decodeHexStrict(s)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func decodeHexStrict(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("pointerstore: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("pointerstore: invalid hex character in %q", s)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// CopyFrom records that a pointer's file was copied from another path/hgid.
type CopyFrom struct {
	Path   string
	CopyRev HgId
}

// Pointer is E3 LfsPointer.
type Pointer struct {
	HgID     HgId
	Size     uint64
	IsBinary bool
	CopyFrom *CopyFrom
	Sha256   content.Hash
}

const pointerVersionLine = "version https://git-lfs.github.com/spec/v1"

// Encode renders the §4.2 pointer text format. Field order: version, oid,
// size, then optional x-hg-copy/x-hg-copyrev/x-is-binary — order beyond
// `version` first is not significant per spec, but a stable order keeps
// output deterministic.
func Encode(p Pointer) []byte {
	var buf bytes.Buffer
	buf.WriteString(pointerVersionLine)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "oid sha256:%s\n", p.Sha256.Hex())
	fmt.Fprintf(&buf, "size %d\n", p.Size)
	if p.CopyFrom != nil {
		fmt.Fprintf(&buf, "x-hg-copy %s\n", p.CopyFrom.Path)
		fmt.Fprintf(&buf, "x-hg-copyrev %s\n", p.CopyFrom.CopyRev.String())
	}
	if !p.IsBinary {
		buf.WriteString("x-is-binary 0\n")
	}
	// IsBinary==true is the default and is omitted, matching "default 1 if
	// absent".
	return buf.Bytes()
}

// Decode parses the §4.2 pointer text format. Unknown fields are rejected;
// copy/copyrev must co-occur.
func Decode(b []byte) (Pointer, error) {
	var p Pointer
	var haveVersion, haveOid, haveSize bool
	var copyPath string
	var copyRev string
	var haveCopyPath, haveCopyRev bool
	isBinary := true // default 1 (true) if absent

	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return Pointer{}, fmt.Errorf("pointerstore: malformed line %q", line)
		}
		switch key {
		case "version":
			if val != "https://git-lfs.github.com/spec/v1" {
				return Pointer{}, fmt.Errorf("pointerstore: unsupported version %q", val)
			}
			haveVersion = true
		case "oid":
			const prefix = "sha256:"
			if !strings.HasPrefix(val, prefix) {
				return Pointer{}, fmt.Errorf("pointerstore: oid must be sha256:<hex>, got %q", val)
			}
			h, err := content.ParseSha256Hex(strings.TrimPrefix(val, prefix))
			if err != nil {
				return Pointer{}, err
			}
			p.Sha256 = h
			haveOid = true
		case "size":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return Pointer{}, fmt.Errorf("pointerstore: invalid size %q: %w", val, err)
			}
			p.Size = n
			haveSize = true
		case "x-hg-copy":
			copyPath = val
			haveCopyPath = true
		case "x-hg-copyrev":
			copyRev = val
			haveCopyRev = true
		case "x-is-binary":
			switch val {
			case "0":
				isBinary = false
			case "1":
				isBinary = true
			default:
				return Pointer{}, fmt.Errorf("pointerstore: invalid x-is-binary %q", val)
			}
		default:
			return Pointer{}, fmt.Errorf("pointerstore: unknown field %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return Pointer{}, err
	}
	if !haveVersion || !haveOid || !haveSize {
		return Pointer{}, fmt.Errorf("pointerstore: missing required field(s)")
	}
	if haveCopyPath != haveCopyRev {
		return Pointer{}, fmt.Errorf("pointerstore: x-hg-copy and x-hg-copyrev must co-occur")
	}
	if haveCopyPath {
		rev, err := ParseHgId(copyRev)
		if err != nil {
			return Pointer{}, err
		}
		p.CopyFrom = &CopyFrom{Path: copyPath, CopyRev: rev}
	}
	p.IsBinary = isBinary
	return p, nil
}
