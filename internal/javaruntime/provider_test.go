package javaruntime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	bus := events.NewBus()
	mgr := download.NewManager(2, bus)
	return NewProvider(t.TempDir(), mgr, bus, zerolog.Nop())
}

func TestExecutable_OverrideWinsUnconditionally(t *testing.T) {
	p := newTestProvider(t)
	exe, err := p.Executable(context.Background(), "java-runtime-gamma", 17, "/custom/java")
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if exe != "/custom/java" {
		t.Errorf("got %s", exe)
	}
}

func TestExecutable_UsesRegisteredRuntime(t *testing.T) {
	p := newTestProvider(t)

	binDir := filepath.Join(p.root, "runtime", "java-runtime-gamma", platformKey(), "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	binName := "java"
	if runtime.GOOS == "windows" {
		binName = "java.exe"
	}
	exePath := filepath.Join(binDir, binName)
	if err := os.WriteFile(exePath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	exe, err := p.Executable(context.Background(), "java-runtime-gamma", 0, "")
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if exe != exePath {
		t.Errorf("got %s, want %s", exe, exePath)
	}
}

func TestExecutable_DownloadsRuntime(t *testing.T) {
	p := newTestProvider(t)

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/all.json", func(w http.ResponseWriter, r *http.Request) {
		entry := map[string]any{
			"manifest": map[string]any{"url": server.URL + "/manifest.json"},
			"version":  map[string]any{"name": "17.0.9"},
		}
		json.NewEncoder(w).Encode(map[string]any{
			platformKey(): map[string]any{"java-runtime-gamma": []any{entry}},
		})
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"files": map[string]any{
				"bin":      map[string]any{"type": "directory"},
				"bin/java": map[string]any{"type": "file", "executable": true, "downloads": map[string]any{"raw": map[string]any{"url": server.URL + "/java"}}},
				"NOTICE":   map[string]any{"type": "file", "downloads": map[string]any{"raw": map[string]any{"url": server.URL + "/notice"}}},
			},
		})
	})
	mux.HandleFunc("/java", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("#!/bin/sh\n")) })
	mux.HandleFunc("/notice", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("legal")) })
	server = httptest.NewServer(mux)
	defer server.Close()

	p.SetManifestURL(server.URL + "/all.json")

	exe, err := p.Executable(context.Background(), "java-runtime-gamma", 0, "")
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if filepath.Base(filepath.Dir(exe)) != "bin" {
		t.Errorf("unexpected executable location %s", exe)
	}
	info, err := os.Stat(exe)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		t.Error("java binary must be executable")
	}
}

func TestExecutable_UnknownComponent(t *testing.T) {
	p := newTestProvider(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{platformKey(): map[string]any{}})
	}))
	defer server.Close()
	p.SetManifestURL(server.URL)

	_, err := p.Executable(context.Background(), "no-such-component", 0, "")
	if !errs.Is(err, errs.JavaMissing) {
		t.Errorf("expected JavaMissing, got %v", err)
	}
}
