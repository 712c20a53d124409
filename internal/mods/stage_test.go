package mods

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
)

func newStager(t *testing.T) *Stager {
	t.Helper()
	return &Stager{
		Mgr: download.NewManager(2, events.NewBus()),
		Log: zerolog.Nop(),
	}
}

func TestStage_DownloadsAndIsIdempotent(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("mod-bytes"))
	}))
	defer server.Close()

	s := newStager(t)
	instanceDir := t.TempDir()
	url := server.URL + "/files/sodium-0.5.8.jar?version=12345"

	res := s.Stage(context.Background(), instanceDir, []string{url}, nil)
	assert.Equal(t, 1, res.Staged)

	// The query string is stripped from the file name.
	dest := filepath.Join(instanceDir, "mods", "sodium-0.5.8.jar")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "mod-bytes", string(data))

	// A second staging run downloads nothing and leaves one file.
	res = s.Stage(context.Background(), instanceDir, []string{url}, nil)
	assert.Equal(t, 0, res.Staged)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, hits)

	entries, err := os.ReadDir(filepath.Join(instanceDir, "mods"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStage_CopiesLocalJarsSkippingSources(t *testing.T) {
	s := newStager(t)
	instanceDir := t.TempDir()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "custom-mod.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "custom-mod-sources.jar"), []byte("src"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "readme.txt"), []byte("doc"), 0o644))

	res := s.Stage(context.Background(), instanceDir, nil, []string{src})
	assert.Equal(t, 1, res.Staged)

	_, err := os.Stat(filepath.Join(instanceDir, "mods", "custom-mod.jar"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(instanceDir, "mods", "custom-mod-sources.jar"))
	assert.True(t, os.IsNotExist(err))
}

func TestStage_FailuresAreCountedNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	s := newStager(t)
	res := s.Stage(context.Background(), t.TempDir(), []string{server.URL + "/gone.jar"}, []string{"/no/such/dir"})
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 0, res.Staged)
}
