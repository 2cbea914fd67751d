package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/scmforge/scmcore/internal/config"
)

func TestLoad_MissingFileIsNotExistError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestLoad_AppliesDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scmcored.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[lfs]
url = "https://lfs.example.com"
threshold = "100MB"

[pushrebase]
casefolding_check = true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://lfs.example.com", cfg.LFS.URL)
	require.Equal(t, 100*datasize.MB, cfg.LFS.Threshold)
	// Keys absent from the file keep Defaults()'s values.
	require.Equal(t, 30, cfg.LFS.ConcurrentFetches)
	require.Equal(t, "1.1", cfg.LFS.HTTPVersion)

	require.True(t, cfg.Pushrebase.CasefoldingCheck)
	require.Equal(t, 10_000, cfg.Pushrebase.RecursionLimit)
}

func TestDefaults_RequestsPerSecondZeroDisablesLimiter(t *testing.T) {
	require.Zero(t, config.Defaults().LFS.RequestsPerSecond)
}
