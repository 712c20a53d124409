package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/maven"
	"github.com/plainprince/mc-launcher/internal/rules"
)

// metaEndpoint describes one Fabric-family meta server.
type metaEndpoint struct {
	base    string
	profile string // template with %s game version and %s build
}

var fabricMeta = map[Type]metaEndpoint{
	Fabric: {
		base:    "https://meta.fabricmc.net/v2",
		profile: "https://meta.fabricmc.net/v2/versions/loader/%s/%s/profile/json",
	},
	LegacyFabric: {
		base:    "https://meta.legacyfabric.net/v2",
		profile: "https://meta.legacyfabric.net/v2/versions/loader/%s/%s/profile/json",
	},
	Quilt: {
		base:    "https://meta.quiltmc.org/v3",
		profile: "https://meta.quiltmc.org/v3/versions/loader/%s/%s/profile/json",
	},
}

// OverrideFabricMeta swaps a flavor's meta endpoint (tests).
func OverrideFabricMeta(t Type, base, profile string) {
	fabricMeta[t] = metaEndpoint{base: base, profile: profile}
}

type loaderBuild struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

type gameVersion struct {
	Version string `json:"version"`
}

// installFabricLike resolves a Fabric, Legacy Fabric, or Quilt profile:
// it validates game-version support, picks the loader build, fetches
// the profile JSON, persists it, and downloads the loader libraries.
// There is no post-processing step for this family.
func installFabricLike(ctx context.Context, deps Deps, flavor Type, build string, base *manifest.VersionDetails) (*Profile, error) {
	meta, ok := fabricMeta[flavor]
	if !ok {
		return nil, errs.New(errs.NotFound, "no meta endpoint for %s", flavor)
	}
	client := newMetaClient()

	// Game-version support check.
	var games []gameVersion
	if err := getJSON(ctx, client, meta.base+"/versions/game", &games); err != nil {
		return nil, err
	}
	supported := false
	for _, g := range games {
		if g.Version == base.ID {
			supported = true
			break
		}
	}
	if !supported {
		return nil, errs.New(errs.NotFound, "%s does not support game version %s", flavor, base.ID)
	}

	// Build selection.
	var builds []loaderBuild
	if err := getJSON(ctx, client, meta.base+"/versions/loader", &builds); err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, errs.New(errs.NotFound, "%s publishes no loader builds", flavor)
	}

	selected, err := pickBuild(flavor, build, builds)
	if err != nil {
		return nil, err
	}
	deps.Log.Info().Str("loader", string(flavor)).Str("build", selected).Str("game", base.ID).Msg("installing loader")

	// Profile fetch. The raw body is kept for persistence so keys our
	// model does not know survive into the version directory.
	profileRaw, err := getRaw(ctx, client, fmt.Sprintf(meta.profile, base.ID, selected))
	if err != nil {
		return nil, err
	}
	var overlay manifest.VersionDetails
	if err := json.Unmarshal(profileRaw, &overlay); err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "%s profile for %s/%s", flavor, base.ID, selected)
	}
	if overlay.ID == "" || overlay.MainClass == "" {
		return nil, errs.New(errs.ProfileInvalid, "%s profile for %s/%s is incomplete", flavor, base.ID, selected)
	}

	// Persist the overlay and give it the base client jar so the
	// version directory is launchable on its own.
	versionDir := filepath.Join(deps.Root, "versions", overlay.ID)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return nil, err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, profileRaw, "", "  "); err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "%s profile for %s/%s", flavor, base.ID, selected)
	}
	if err := os.WriteFile(filepath.Join(versionDir, overlay.ID+".json"), indented.Bytes(), 0o644); err != nil {
		return nil, err
	}
	baseJar := filepath.Join(deps.Root, "versions", base.ID, base.ID+".jar")
	overlayJar := filepath.Join(versionDir, overlay.ID+".jar")
	if _, err := os.Stat(overlayJar); os.IsNotExist(err) {
		if err := copyFile(baseJar, overlayJar); err != nil {
			deps.Log.Warn().Err(err).Msg("could not copy base client jar into loader version dir")
		}
	}

	// Library downloads. Each entry carries its own Maven repository;
	// rule-gated entries are skipped.
	osInfo := rules.Current()
	var tasks []download.Task
	for _, lib := range overlay.Libraries {
		if !rules.Allowed(lib.Rules, osInfo, nil) {
			continue
		}
		task, err := fabricLibraryTask(deps, lib)
		if err != nil {
			return nil, err
		}
		if task != nil {
			tasks = append(tasks, *task)
		}
	}
	result, err := deps.Mgr.DownloadMany(ctx, tasks, 0, 0)
	if err != nil {
		return nil, err
	}
	if result.Failed > 0 {
		return nil, errs.New(errs.Network, "%d loader libraries failed to download", result.Failed)
	}

	return &Profile{VersionID: overlay.ID, Overlay: &overlay}, nil
}

// pickBuild maps the requested build onto a published one: latest is
// the first entry, recommended (Quilt) the first non-beta, anything
// else a literal match. A miss reports the available builds.
func pickBuild(flavor Type, requested string, builds []loaderBuild) (string, error) {
	switch requested {
	case BuildLatest, "":
		return builds[0].Version, nil
	case BuildRecommended:
		if flavor == Quilt {
			for _, b := range builds {
				if !strings.Contains(b.Version, "-beta") {
					return b.Version, nil
				}
			}
			return builds[0].Version, nil
		}
		// Fabric marks stability explicitly.
		for _, b := range builds {
			if b.Stable {
				return b.Version, nil
			}
		}
		return builds[0].Version, nil
	default:
		available := make([]string, 0, len(builds))
		for _, b := range builds {
			if b.Version == requested {
				return requested, nil
			}
			available = append(available, b.Version)
		}
		return "", errs.New(errs.NotFound, "loader build %q not found; available: %s", requested, strings.Join(available, ", "))
	}
}

// fabricLibraryTask resolves one loader library to a download task, or
// nil when it is already on disk.
func fabricLibraryTask(deps Deps, lib manifest.Library) (*download.Task, error) {
	libDir := filepath.Join(deps.Root, "libraries")

	if lib.Downloads != nil && lib.Downloads.Artifact != nil && lib.Downloads.Artifact.URL != "" {
		art := lib.Downloads.Artifact
		dest := filepath.Join(libDir, filepath.FromSlash(art.Path))
		return &download.Task{
			URL:  art.URL,
			Dir:  filepath.Dir(dest),
			Name: filepath.Base(dest),
			SHA1: art.SHA1,
			Size: art.Size,
		}, nil
	}

	art, err := maven.Parse(lib.Name)
	if err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "loader library %s", lib.Name)
	}
	relPath := art.Path()
	dest := filepath.Join(libDir, filepath.FromSlash(relPath))
	if _, err := os.Stat(dest); err == nil {
		return nil, nil
	}

	repo := lib.URL
	if repo == "" {
		repo = "https://maven.fabricmc.net/"
	}
	sourceURL, err := url.JoinPath(repo, relPath)
	if err != nil {
		return nil, err
	}
	return &download.Task{URL: sourceURL, Dir: filepath.Dir(dest), Name: filepath.Base(dest)}, nil
}
