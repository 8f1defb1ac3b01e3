//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscope/elexon-pipeline/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "test.db"),
		},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultPath(t *testing.T) {
	// With no path configured, initStore falls back to elexon_generation.db.
	// Run in a temp dir so the file doesn't land in the project root.
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite"},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "elexon_generation.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "mysql"},
	}

	st, err := initStore(context.Background())
	assert.Nil(t, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestNewImporter_FromConfig(t *testing.T) {
	cfg = &config.Config{
		Elexon: config.ElexonConfig{
			BaseURL:           "https://data.elexon.co.uk/bmrs/api/v1",
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Import: config.ImportConfig{MaxWindowDays: 7, Concurrency: 2},
	}

	imp := newImporter(nil, true, nil)
	assert.NotNil(t, imp)
}
