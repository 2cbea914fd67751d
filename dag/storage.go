package dag

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PersistedSegment is the on-disk form of a FlatSegment plus the group it
// belongs to.
type PersistedSegment struct {
	Group   Group `json:"group"`
	Low     Id    `json:"low"`
	High    Id    `json:"high"`
	Parents []Id  `json:"parents"`
}

// PersistedMapping is the on-disk form of one IdMap entry.
type PersistedMapping struct {
	Vertex Vertex `json:"vertex"`
	Id     Id     `json:"id"`
}

// PersistedState is the small metadata file containing the persisted Id
// set spans and storage version (§6 "Persisted state layout").
type PersistedState struct {
	StorageVersion     uint64           `json:"storage_version"`
	PersistedIdSetLow  map[Group]Id     `json:"persisted_low"`
	PersistedIdSetHigh map[Group]Id     `json:"persisted_high"`
}

// FileStorage is the on-disk backend: segment log + IdMap log + state
// file, all under one directory. It is intentionally simple (whole-file
// JSON) — the chunk log's torn-write recovery machinery exists one layer
// down in lfs/blobstore for a reason: DAG writes happen under the same
// write lock that guards the rename below, so an atomic rename is enough.
type FileStorage struct {
	Dir string
}

func (s *FileStorage) segmentsPath() string { return s.Dir + "/segments.json" }
func (s *FileStorage) idmapPath() string    { return s.Dir + "/idmap.json" }
func (s *FileStorage) statePath() string    { return s.Dir + "/state.json" }

// Load reads all three files, tolerating their absence (a fresh repo).
func (s *FileStorage) Load() ([]PersistedSegment, []PersistedMapping, PersistedState, error) {
	var segs []PersistedSegment
	var maps []PersistedMapping
	var state PersistedState

	if err := readJSONIfExists(s.segmentsPath(), &segs); err != nil {
		return nil, nil, state, err
	}
	if err := readJSONIfExists(s.idmapPath(), &maps); err != nil {
		return nil, nil, state, err
	}
	if err := readJSONIfExists(s.statePath(), &state); err != nil {
		return nil, nil, state, err
	}
	return segs, maps, state, nil
}

// Save writes all three files via tmp-then-rename for atomicity.
func (s *FileStorage) Save(segs []PersistedSegment, maps []PersistedMapping, state PersistedState) error {
	if err := writeJSONAtomic(s.idmapPath(), maps); err != nil {
		return err
	}
	if err := writeJSONAtomic(s.segmentsPath(), segs); err != nil {
		return err
	}
	return writeJSONAtomic(s.statePath(), state)
}

func readJSONIfExists(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
