package loader

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/internal/manifest"
)

// NeoForge endpoints; vars so tests can point them at a fake upstream.
var (
	neoforgeLegacyAPI  = "https://maven.neoforged.net/api/maven/versions/releases/net/neoforged/forge"
	neoforgeCurrentAPI = "https://maven.neoforged.net/api/maven/versions/releases/net/neoforged/neoforge"
	neoforgeMavenBase  = "https://maven.neoforged.net/releases"
)

// OverrideNeoForgeEndpoints swaps the NeoForge hosts (tests).
func OverrideNeoForgeEndpoints(legacy, current, mvn string) {
	neoforgeLegacyAPI = legacy
	neoforgeCurrentAPI = current
	neoforgeMavenBase = mvn
}

// installNeoForge mirrors the Forge flow against NeoForge's maven API.
// Builds for 1.20.1 live on the legacy net.neoforged:forge coordinate;
// everything newer on net.neoforged:neoforge. Which endpoint surfaced
// the build decides the universal coordinate prefix downstream.
func installNeoForge(ctx context.Context, deps Deps, build string, base *manifest.VersionDetails) (*Profile, error) {
	client := newMetaClient()

	version, oldAPI, err := resolveNeoForgeBuild(ctx, client, base.ID, build)
	if err != nil {
		return nil, err
	}

	artifact := "neoforge"
	group := "net.neoforged"
	if oldAPI {
		artifact = "forge"
	}
	deps.Log.Info().Str("neoforge", version).Bool("legacy_api", oldAPI).Msg("installing NeoForge")

	installerURL := fmt.Sprintf("%s/net/neoforged/%s/%s/%s-%s-installer.jar", neoforgeMavenBase, artifact, version, artifact, version)
	installerPath, err := fetchInstaller(ctx, deps, installerURL, fmt.Sprintf("%s:%s-installer:%s", group, artifact, version), "")
	if err != nil {
		return nil, err
	}

	overlay, install, err := readInstaller(deps, installerPath, base, fmt.Sprintf("%s:%s:%s", group, artifact, version))
	if err != nil {
		return nil, err
	}

	if err := planInstallerLibraries(ctx, deps, install, overlay); err != nil {
		return nil, err
	}
	if len(install.Processors) > 0 {
		if err := RunProcessors(ctx, deps, install); err != nil {
			return nil, err
		}
	}

	return &Profile{VersionID: overlay.ID, Overlay: overlay, Install: install}, nil
}

// resolveNeoForgeBuild consults the current endpoint first, then the
// legacy one, returning the chosen build and which API carried it.
func resolveNeoForgeBuild(ctx context.Context, client *http.Client, mcVersion, build string) (string, bool, error) {
	type versionList struct {
		Versions []string `json:"versions"`
	}

	// Current scheme: neoforge "X.Y.Z" tracks mc "1.X.Y".
	prefix := strings.TrimPrefix(mcVersion, "1.")
	if !strings.Contains(prefix, ".") {
		prefix += ".0"
	}

	var matches []string
	oldAPI := false

	var current versionList
	if err := getJSON(ctx, client, neoforgeCurrentAPI, &current); err == nil {
		for _, v := range current.Versions {
			if strings.HasPrefix(v, prefix+".") {
				matches = append(matches, v)
			}
		}
	}
	if len(matches) == 0 {
		var legacy versionList
		if err := getJSON(ctx, client, neoforgeLegacyAPI, &legacy); err == nil {
			for _, v := range legacy.Versions {
				if strings.HasPrefix(v, mcVersion+"-") {
					matches = append(matches, v)
				}
			}
			oldAPI = len(matches) > 0
		}
	}
	if len(matches) == 0 {
		return "", false, errs.New(errs.NotFound, "no NeoForge builds for %s", mcVersion)
	}

	switch build {
	case BuildLatest, "":
		return matches[len(matches)-1], oldAPI, nil
	case BuildRecommended:
		for i := len(matches) - 1; i >= 0; i-- {
			if !strings.Contains(matches[i], "-beta") {
				return matches[i], oldAPI, nil
			}
		}
		return matches[len(matches)-1], oldAPI, nil
	default:
		for _, v := range matches {
			if v == build || strings.HasSuffix(v, "-"+build) {
				return v, oldAPI, nil
			}
		}
		return "", false, errs.New(errs.NotFound, "NeoForge build %q not found; available: %s", build, strings.Join(matches, ", "))
	}
}
