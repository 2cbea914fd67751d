// Package config holds the §6 configuration surface: LFS tuning, pushrebase
// flags, and purge bookkeeping, decoded from TOML with human-readable sizes.
package config

import (
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
)

// LFS mirrors the `lfs.*` keys of §6.
type LFS struct {
	URL                      string            `toml:"url"`
	Threshold                datasize.ByteSize `toml:"threshold"`
	DownloadChunkSize        datasize.ByteSize `toml:"download-chunk-size"`
	ConcurrentFetches        int               `toml:"concurrentfetches"`
	BackoffTimes             []int             `toml:"backofftimes"`
	ThrottleBackoffTimes     []int             `toml:"throttlebackofftimes"`
	RequestTimeoutMS         int               `toml:"requesttimeout"`
	LowSpeedGracePeriodMS    int               `toml:"low-speed-grace-period"`
	LowSpeedMinBytesPerSec   int64             `toml:"low-speed-min-bytes-per-second"`
	BlobsChunkSize           datasize.ByteSize `toml:"blobschunksize"`
	BlobsStoreSize           datasize.ByteSize `toml:"blobsstoresize"`
	AutoSyncThreshold        datasize.ByteSize `toml:"autosyncthreshold"`
	PointersStoreSize        datasize.ByteSize `toml:"pointersstoresize"`
	MoveAfterUpload          bool              `toml:"moveafterupload"`
	AcceptZstd               bool              `toml:"accept-zstd"`
	HTTPVersion              string            `toml:"http-version"`
	UserAgent                string            `toml:"useragent"`
	RequestsPerSecond        float64           `toml:"requests-per-second"`
}

// Pushrebase mirrors the `pushrebase.*` keys of §6.
type Pushrebase struct {
	RecursionLimit              int  `toml:"recursion_limit"`
	CasefoldingCheck             bool `toml:"casefolding_check"`
	ForbidP2RootRebases          bool `toml:"forbid_p2_root_rebases"`
	RewriteDates                 bool `toml:"rewritedates"`
	NotGeneratedFilenodesLimit   int  `toml:"not_generated_filenodes_limit"`
}

// Config is the top-level decoded configuration.
type Config struct {
	LFS        LFS                  `toml:"lfs"`
	Pushrebase Pushrebase           `toml:"pushrebase"`
	HgCachePurge map[string]string  `toml:"hgcache-purge"`
}

// Defaults returns the documented default values for every tunable.
func Defaults() Config {
	return Config{
		LFS: LFS{
			DownloadChunkSize: 5 * datasize.MB,
			ConcurrentFetches: 30,
			BlobsChunkSize:    20 * datasize.MB,
			HTTPVersion:       "1.1",
			UserAgent:         "scmcore-lfs-client",
			RequestsPerSecond: 0, // 0 disables the limiter
		},
		Pushrebase: Pushrebase{
			RecursionLimit: 10_000,
		},
	}
}

// Load decodes a TOML config file, applying Defaults for anything absent.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
