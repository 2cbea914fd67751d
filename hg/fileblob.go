// Package hg implements the Mercurial-facing pieces this core must stay
// byte-compatible with: the file blob copy-info header (E4) and the
// filecommit parent-election rules C9's changeset derivation applies.
package hg

import (
	"bytes"
	"fmt"

	"github.com/scmforge/scmcore/lfs/pointerstore"
)

const headerMarker = "\x01\n"

// CopyInfo is the parsed E4 header payload.
type CopyInfo struct {
	Path    string
	CopyRev pointerstore.HgId
}

// StripHeader implements "strip on ingest": if raw begins with the E4
// header, returns the payload after it and the parsed copy info (nil if
// the header carried no copy info, i.e. it was only escaping a leading
// \x01\n in the data itself). If raw has no header at all, returns it
// unchanged with a nil CopyInfo.
func StripHeader(raw []byte) ([]byte, *CopyInfo, error) {
	if !bytes.HasPrefix(raw, []byte(headerMarker)) {
		return raw, nil, nil
	}
	rest := raw[len(headerMarker):]
	end := bytes.Index(rest, []byte(headerMarker))
	if end < 0 {
		return nil, nil, fmt.Errorf("hg: unterminated file blob header")
	}
	header := rest[:end]
	payload := rest[end+len(headerMarker):]

	if len(header) == 0 {
		// \x01\n\x01\n escaping a data payload that itself started with \x01\n.
		return payload, nil, nil
	}

	info, err := parseHeader(header)
	if err != nil {
		return nil, nil, err
	}
	return payload, info, nil
}

func parseHeader(header []byte) (*CopyInfo, error) {
	var info CopyInfo
	var haveCopy, haveCopyRev bool
	for _, line := range bytes.Split(header, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		key, val, ok := bytes.Cut(line, []byte(": "))
		if !ok {
			return nil, fmt.Errorf("hg: malformed file blob header line %q", line)
		}
		switch string(key) {
		case "copy":
			info.Path = string(val)
			haveCopy = true
		case "copyrev":
			rev, err := pointerstore.ParseHgId(string(val))
			if err != nil {
				return nil, err
			}
			info.CopyRev = rev
			haveCopyRev = true
		default:
			return nil, fmt.Errorf("hg: unknown file blob header field %q", key)
		}
	}
	if !haveCopy || !haveCopyRev {
		return nil, fmt.Errorf("hg: file blob header missing copy/copyrev")
	}
	return &info, nil
}

// RebuildHeader implements "rebuild on egress": given the stripped payload
// and the CopyInfo (nil if none), reconstructs the byte-identical form a
// Mercurial reader expects, including the escape case where payload itself
// starts with \x01\n but carries no copy info.
func RebuildHeader(payload []byte, info *CopyInfo) []byte {
	if info == nil {
		if bytes.HasPrefix(payload, []byte(headerMarker)) {
			var buf bytes.Buffer
			buf.WriteString(headerMarker)
			buf.WriteString(headerMarker)
			buf.Write(payload)
			return buf.Bytes()
		}
		return payload
	}
	var buf bytes.Buffer
	buf.WriteString(headerMarker)
	fmt.Fprintf(&buf, "copy: %s\n", info.Path)
	fmt.Fprintf(&buf, "copyrev: %s\n", info.CopyRev.String())
	buf.WriteString(headerMarker)
	buf.Write(payload)
	return buf.Bytes()
}
