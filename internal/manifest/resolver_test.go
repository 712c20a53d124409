package manifest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
)

// fakeUpstream serves a version index plus per-version JSON documents.
func fakeUpstream(t *testing.T, versions map[string]*VersionDetails, latestRelease string) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		idx := Index{Latest: LatestVersions{Release: latestRelease, Snapshot: latestRelease}}
		for id := range versions {
			idx.Versions = append(idx.Versions, Version{
				ID:  id,
				URL: server.URL + "/versions/" + id + ".json",
			})
		}
		json.NewEncoder(w).Encode(idx)
	})
	mux.HandleFunc("/versions/", func(w http.ResponseWriter, r *http.Request) {
		id := filepath.Base(r.URL.Path)
		id = id[:len(id)-len(".json")]
		details, ok := versions[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(details)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func validDetails(id string) *VersionDetails {
	return &VersionDetails{
		ID:        id,
		Type:      VersionTypeRelease,
		MainClass: "net.minecraft.client.main.Main",
		Arguments: &Arguments{Game: []interface{}{"--username", "${auth_player_name}"}},
		Downloads: Downloads{Client: &Artifact{URL: "https://example.test/" + id + ".jar"}},
	}
}

func newTestResolver(t *testing.T, server *httptest.Server) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r := NewResolver(root, events.NewBus(), zerolog.Nop())
	r.SetIndexURL(server.URL + "/index.json")
	return r, root
}

func TestResolve_PersistsMergedJSON(t *testing.T) {
	server := fakeUpstream(t, map[string]*VersionDetails{"1.8.9": validDetails("1.8.9")}, "1.8.9")
	r, root := newTestResolver(t, server)

	details, err := r.Resolve(context.Background(), "1.8.9")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if details.MainClass != "net.minecraft.client.main.Main" {
		t.Errorf("unexpected main class %s", details.MainClass)
	}

	persisted := filepath.Join(root, "versions", "1.8.9", "1.8.9.json")
	if _, err := os.Stat(persisted); err != nil {
		t.Errorf("merged JSON not persisted: %v", err)
	}
}

func TestResolve_LatestReleaseAlias(t *testing.T) {
	server := fakeUpstream(t, map[string]*VersionDetails{"1.21.4": validDetails("1.21.4")}, "1.21.4")
	r, _ := newTestResolver(t, server)

	details, err := r.Resolve(context.Background(), AliasLatestRelease)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if details.ID != "1.21.4" {
		t.Errorf("alias resolved to %s", details.ID)
	}
}

func TestResolve_UnknownVersion(t *testing.T) {
	server := fakeUpstream(t, map[string]*VersionDetails{}, "")
	r, _ := newTestResolver(t, server)

	_, err := r.Resolve(context.Background(), "0.0.0")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestResolve_InheritanceMerge(t *testing.T) {
	// Real upstream documents are sparse: they only carry the keys
	// they set, so they are served here as raw JSON.
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Index{Versions: []Version{
			{ID: "1.20.1", URL: server.URL + "/parent.json"},
			{ID: "loader-1.20.1", URL: server.URL + "/child.json"},
		}})
	})
	mux.HandleFunc("/parent.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "1.20.1",
			"type": "release",
			"mainClass": "net.minecraft.client.main.Main",
			"minecraftArguments": "--username ${auth_player_name}",
			"libraries": [{"name": "base:lib:1"}],
			"downloads": {"client": {"url": "https://example.test/client.jar"}}
		}`))
	})
	mux.HandleFunc("/child.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "loader-1.20.1",
			"inheritsFrom": "1.20.1",
			"mainClass": "loader.Main",
			"libraries": [{"name": "loader:lib:1"}]
		}`))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	r, _ := newTestResolver(t, server)

	details, err := r.Resolve(context.Background(), "loader-1.20.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if details.MainClass != "loader.Main" {
		t.Errorf("child main class must dominate, got %s", details.MainClass)
	}
	if len(details.Libraries) != 2 || details.Libraries[0].Name != "base:lib:1" {
		t.Errorf("libraries must concat parent-first: %+v", details.Libraries)
	}
	if details.Downloads.Client == nil {
		t.Error("client download must come from the parent")
	}
}

func TestResolve_InheritanceCycle(t *testing.T) {
	a := validDetails("a")
	a.InheritsFrom = "b"
	b := validDetails("b")
	b.InheritsFrom = "a"
	server := fakeUpstream(t, map[string]*VersionDetails{"a": a, "b": b}, "a")
	r, _ := newTestResolver(t, server)

	_, err := r.Resolve(context.Background(), "a")
	if !errs.Is(err, errs.ProfileInvalid) {
		t.Errorf("expected ProfileInvalid for a cycle, got %v", err)
	}
}

func TestResolve_PrefersLocalOverlay(t *testing.T) {
	server := fakeUpstream(t, map[string]*VersionDetails{"1.20.1": validDetails("1.20.1")}, "1.20.1")
	r, root := newTestResolver(t, server)

	// A loader overlay exists only on disk, in the sparse form loader
	// installers actually write (only the keys they set).
	const overlayID = "fabric-loader-0.16.0-1.20.1"
	dir := filepath.Join(root, "versions", overlayID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	overlayRaw := []byte(`{
		"id": "fabric-loader-0.16.0-1.20.1",
		"inheritsFrom": "1.20.1",
		"mainClass": "net.fabricmc.loader.impl.launch.knot.KnotClient"
	}`)
	if err := os.WriteFile(filepath.Join(dir, overlayID+".json"), overlayRaw, 0o644); err != nil {
		t.Fatal(err)
	}

	details, err := r.Resolve(context.Background(), overlayID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if details.MainClass != "net.fabricmc.loader.impl.launch.knot.KnotClient" {
		t.Errorf("overlay main class must win, got %s", details.MainClass)
	}
	if details.Downloads.Client == nil {
		t.Error("client download must come from the parent through the raw merge")
	}
}

func TestResolve_InvalidAfterMerge(t *testing.T) {
	broken := validDetails("broken")
	broken.MainClass = ""
	server := fakeUpstream(t, map[string]*VersionDetails{"broken": broken}, "broken")
	r, _ := newTestResolver(t, server)

	_, err := r.Resolve(context.Background(), "broken")
	if !errs.Is(err, errs.ProfileInvalid) {
		t.Errorf("expected ProfileInvalid, got %v", err)
	}
}

func TestResolve_PersistedJSONKeepsUnknownFields(t *testing.T) {
	// Raw documents bypass the typed model; unknown keys must survive
	// the merge into the persisted file.
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Index{Versions: []Version{
			{ID: "1.20.1", URL: server.URL + "/parent.json"},
			{ID: "loader-1.20.1", URL: server.URL + "/child.json"},
		}})
	})
	mux.HandleFunc("/parent.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "1.20.1",
			"mainClass": "net.minecraft.client.main.Main",
			"complianceLevel": 1,
			"minecraftArguments": "--username ${auth_player_name}",
			"downloads": {"client": {"url": "https://example.test/client.jar"}}
		}`))
	})
	mux.HandleFunc("/child.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "loader-1.20.1",
			"inheritsFrom": "1.20.1",
			"mainClass": "loader.Main",
			"loaderExtra": {"custom": true}
		}`))
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	root := t.TempDir()
	r := NewResolver(root, events.NewBus(), zerolog.Nop())
	r.SetIndexURL(server.URL + "/index.json")

	details, err := r.Resolve(context.Background(), "loader-1.20.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if details.MainClass != "loader.Main" {
		t.Errorf("unexpected main class %s", details.MainClass)
	}

	persisted, err := os.ReadFile(filepath.Join(root, "versions", "loader-1.20.1", "loader-1.20.1.json"))
	if err != nil {
		t.Fatalf("reading persisted JSON: %v", err)
	}
	var onDisk map[string]interface{}
	if err := json.Unmarshal(persisted, &onDisk); err != nil {
		t.Fatalf("persisted JSON invalid: %v", err)
	}
	if onDisk["complianceLevel"] != float64(1) {
		t.Error("parent's complianceLevel dropped from the persisted merge")
	}
	if _, ok := onDisk["loaderExtra"]; !ok {
		t.Error("child's loaderExtra dropped from the persisted merge")
	}
}

func TestResolveID_PassthroughLiteral(t *testing.T) {
	server := fakeUpstream(t, nil, "")
	r, _ := newTestResolver(t, server)
	id, err := r.ResolveID(context.Background(), "1.8.9")
	if err != nil || id != "1.8.9" {
		t.Errorf("got %q, %v", id, err)
	}
}
