package loader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	bus := events.NewBus()
	return Deps{
		Root: t.TempDir(),
		Mgr:  download.NewManager(2, bus),
		Bus:  bus,
		Log:  zerolog.Nop(),
	}
}

func TestPickBuild(t *testing.T) {
	builds := []loaderBuild{
		{Version: "0.21.0-beta.2"},
		{Version: "0.20.1", Stable: true},
		{Version: "0.20.0", Stable: true},
	}

	t.Run("latest is the first entry", func(t *testing.T) {
		got, err := pickBuild(Fabric, BuildLatest, builds)
		require.NoError(t, err)
		assert.Equal(t, "0.21.0-beta.2", got)
	})

	t.Run("quilt recommended skips betas", func(t *testing.T) {
		got, err := pickBuild(Quilt, BuildRecommended, builds)
		require.NoError(t, err)
		assert.Equal(t, "0.20.1", got)
	})

	t.Run("fabric recommended takes first stable", func(t *testing.T) {
		got, err := pickBuild(Fabric, BuildRecommended, builds)
		require.NoError(t, err)
		assert.Equal(t, "0.20.1", got)
	})

	t.Run("literal match", func(t *testing.T) {
		got, err := pickBuild(Fabric, "0.20.0", builds)
		require.NoError(t, err)
		assert.Equal(t, "0.20.0", got)
	})

	t.Run("miss lists available builds", func(t *testing.T) {
		_, err := pickBuild(Fabric, "9.9.9", builds)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.NotFound))
		assert.Contains(t, err.Error(), "0.20.1")
	})
}

// fakeFabricMeta serves the three fabric meta surfaces plus library bodies.
func fakeFabricMeta(t *testing.T, gameVersions []string, builds []loaderBuild, overlay *manifest.VersionDetails) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/versions/game", func(w http.ResponseWriter, r *http.Request) {
		var out []gameVersion
		for _, v := range gameVersions {
			out = append(out, gameVersion{Version: v})
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/versions/loader", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(builds)
	})
	mux.HandleFunc("/profile/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(overlay)
	})
	mux.HandleFunc("/lib/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jar-bytes"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestInstallFabricLike(t *testing.T) {
	deps := testDeps(t)

	base := &manifest.VersionDetails{ID: "1.21.4"}
	baseDir := filepath.Join(deps.Root, "versions", "1.21.4")
	require.NoError(t, os.MkdirAll(baseDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "1.21.4.jar"), []byte("client"), 0o644))

	var server *httptest.Server
	overlay := &manifest.VersionDetails{
		ID:           "fabric-loader-0.16.9-1.21.4",
		InheritsFrom: "1.21.4",
		MainClass:    "net.fabricmc.loader.impl.launch.knot.KnotClient",
	}
	server = fakeFabricMeta(t, []string{"1.21.4"}, []loaderBuild{{Version: "0.16.9", Stable: true}}, overlay)

	// The library is resolved against its own repository URL.
	overlay.Libraries = []manifest.Library{{
		Name: "net.fabricmc:fabric-loader:0.16.9",
		URL:  server.URL + "/lib/",
	}}

	old := fabricMeta[Fabric]
	OverrideFabricMeta(Fabric, server.URL, server.URL+"/profile/%s/%s")
	t.Cleanup(func() { fabricMeta[Fabric] = old })

	profile, err := installFabricLike(context.Background(), deps, Fabric, BuildLatest, base)
	require.NoError(t, err)

	assert.Equal(t, "fabric-loader-0.16.9-1.21.4", profile.VersionID)
	assert.Equal(t, "net.fabricmc.loader.impl.launch.knot.KnotClient", profile.Overlay.MainClass)
	assert.Nil(t, profile.Install, "fabric has no patch stage")

	// Overlay persisted with a copy of the base client jar.
	versionDir := filepath.Join(deps.Root, "versions", profile.VersionID)
	_, err = os.Stat(filepath.Join(versionDir, profile.VersionID+".json"))
	assert.NoError(t, err)
	jar, err := os.ReadFile(filepath.Join(versionDir, profile.VersionID+".jar"))
	require.NoError(t, err)
	assert.Equal(t, "client", string(jar))

	// Loader library landed in the maven tree.
	_, err = os.Stat(filepath.Join(deps.Root, "libraries", "net", "fabricmc", "fabric-loader", "0.16.9", "fabric-loader-0.16.9.jar"))
	assert.NoError(t, err)
}

func TestInstallFabricLike_UnsupportedGameVersion(t *testing.T) {
	deps := testDeps(t)

	server := fakeFabricMeta(t, []string{"1.20.1"}, []loaderBuild{{Version: "0.16.9"}}, &manifest.VersionDetails{})
	old := fabricMeta[Fabric]
	OverrideFabricMeta(Fabric, server.URL, server.URL+"/profile/%s/%s")
	t.Cleanup(func() { fabricMeta[Fabric] = old })

	_, err := installFabricLike(context.Background(), deps, Fabric, BuildLatest, &manifest.VersionDetails{ID: "1.21.4"})
	assert.True(t, errs.Is(err, errs.NotFound))
}
