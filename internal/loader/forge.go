package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jeffail/gabs"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/internal/archive"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/maven"
	"github.com/plainprince/mc-launcher/internal/rules"
)

// Forge endpoints; vars so tests can point them at a fake upstream.
var (
	forgeFilesBase = "https://files.minecraftforge.net/net/minecraftforge/forge"
	forgeMavenBase = "https://maven.minecraftforge.net"
	mojangLibsBase = "https://libraries.minecraft.net"
)

// OverrideForgeEndpoints swaps the Forge metadata/artifact hosts (tests).
func OverrideForgeEndpoints(files, mvn string) {
	forgeFilesBase = files
	forgeMavenBase = mvn
}

// DataEntry is one named template value of an install profile, already
// resolved per side: artifact references become library paths, quoted
// literals are unquoted, embedded files are extracted next to the
// installer. ClientArtifact marks a client value that came from a
// "[coord]" reference, which is what the patcher's idempotence check
// keys on.
type DataEntry struct {
	Client         string
	Server         string
	ClientArtifact bool
}

// Processor is one installer post-processing step.
type Processor struct {
	Jar       string
	Classpath []string
	Args      []string
	Sides     []string
	Outputs   map[string]string
}

// InstallProfile is the parsed install_profile.json of a Forge-family
// installer, with its data section resolved against the local tree.
type InstallProfile struct {
	Data           map[string]DataEntry
	Processors     []Processor
	Libraries      []manifest.Library
	UniversalCoord string
	ClientDataPath string // extracted -clientdata.lzma, when present
	MinecraftJar   string // base client jar path
	VersionJSON    string // persisted base version JSON path
	InstallerPath  string
	Legacy         bool
}

// forgeLibrary carries the legacy side-requirement flags alongside the
// modern library shape.
type forgeLibrary struct {
	manifest.Library
	Clientreq *bool `json:"clientreq"`
	Serverreq *bool `json:"serverreq"`
}

// installForge resolves and installs a Forge build: promotion lookup,
// installer download with MD5 verification, archive extraction, library
// planning, and finally the processor run.
func installForge(ctx context.Context, deps Deps, build string, base *manifest.VersionDetails) (*Profile, error) {
	client := newMetaClient()

	full, err := resolveForgeBuild(ctx, client, base.ID, build)
	if err != nil {
		return nil, err
	}
	deps.Log.Info().Str("forge", full).Msg("installing Forge")

	// Installer flavor and its MD5 from the per-build metadata.
	var meta struct {
		Classifiers map[string]map[string]string `json:"classifiers"`
	}
	if err := getJSON(ctx, client, fmt.Sprintf("%s/%s/meta.json", forgeFilesBase, full), &meta); err != nil {
		return nil, err
	}
	flavor := ""
	for _, candidate := range []string{"installer", "client", "universal"} {
		if _, ok := meta.Classifiers[candidate]; ok {
			flavor = candidate
			break
		}
	}
	if flavor == "" {
		return nil, errs.New(errs.NotFound, "forge %s publishes no installer, client, or universal artifact", full)
	}

	installerURL := fmt.Sprintf("%s/net/minecraftforge/forge/%s/forge-%s-%s.jar", forgeMavenBase, full, full, flavor)
	installerPath, err := fetchInstaller(ctx, deps, installerURL, "net.minecraftforge:installer:"+full, meta.Classifiers[flavor]["jar"])
	if err != nil {
		return nil, err
	}

	overlay, install, err := readInstaller(deps, installerPath, base, "net.minecraftforge:forge:"+full)
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

// fetchInstaller downloads an installer jar into the libraries tree and
// verifies its MD5 when one is published. A mismatch deletes the file.
func fetchInstaller(ctx context.Context, deps Deps, url, coord, wantMD5 string) (string, error) {
	art, err := maven.Parse(coord)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(deps.Root, "libraries", filepath.FromSlash(art.Path()))
	if err := deps.Mgr.DownloadOne(ctx, download.Task{
		URL:  url,
		Dir:  filepath.Dir(dest),
		Name: filepath.Base(dest),
	}); err != nil {
		return "", err
	}

	if wantMD5 != "" {
		got, err := maven.Md5File(dest)
		if err != nil {
			return "", err
		}
		if !strings.EqualFold(got, wantMD5) {
			os.Remove(dest)
			return "", errs.New(errs.HashMismatch, "installer md5 %s, expected %s", got, wantMD5)
		}
	}
	return dest, nil
}

// resolveForgeBuild maps latest/recommended promotions or a literal
// build onto the full "<mc>-<build>" version string.
func resolveForgeBuild(ctx context.Context, client *http.Client, mcVersion, build string) (string, error) {
	switch build {
	case BuildLatest, "", BuildRecommended:
		var promos struct {
			Promos map[string]string `json:"promos"`
		}
		if err := getJSON(ctx, client, forgeFilesBase+"/promotions_slim.json", &promos); err != nil {
			return "", err
		}
		if build == BuildRecommended {
			if v, ok := promos.Promos[mcVersion+"-recommended"]; ok && v != "" {
				return mcVersion + "-" + v, nil
			}
		}
		if v, ok := promos.Promos[mcVersion+"-latest"]; ok && v != "" {
			return mcVersion + "-" + v, nil
		}
		return "", errs.New(errs.NotFound, "no Forge promotion for %s", mcVersion)
	default:
		var metadata map[string][]string
		if err := getJSON(ctx, client, forgeFilesBase+"/maven-metadata.json", &metadata); err != nil {
			return "", err
		}
		full := mcVersion + "-" + build
		for _, published := range metadata[mcVersion] {
			if published == full || published == build {
				return published, nil
			}
		}
		return "", errs.New(errs.NotFound, "Forge build %s not published for %s; available: %s",
			build, mcVersion, strings.Join(metadata[mcVersion], ", "))
	}
}

// readInstaller pulls install_profile.json (and the version overlay)
// out of an installer jar, persists the overlay, extracts the universal
// jar and client.lzma, and resolves the data section.
func readInstaller(deps Deps, installerPath string, base *manifest.VersionDetails, fallbackCoord string) (*manifest.VersionDetails, *InstallProfile, error) {
	profileRaw, err := archive.ReadEntry(installerPath, "install_profile.json")
	if err != nil {
		return nil, nil, err
	}
	if profileRaw == nil {
		return nil, nil, errs.New(errs.ArchiveInvalid, "installer carries no install_profile.json")
	}
	doc, err := gabs.ParseJSON(profileRaw)
	if err != nil {
		return nil, nil, errs.Wrapf(errs.ProfileInvalid, err, "install_profile.json")
	}

	install := &InstallProfile{InstallerPath: installerPath}
	var installDoc *gabs.Container
	var overlayRaw []byte

	// Nested install+versionInfo is the legacy single-document layout;
	// otherwise the document is the profile and a sibling entry (named
	// in "json") is the version overlay.
	if doc.ExistsP("install") && doc.ExistsP("versionInfo") {
		install.Legacy = true
		installDoc = doc.Path("install")
		overlayRaw = []byte(doc.Path("versionInfo").String())
	} else {
		installDoc = doc
		sibling, _ := doc.Path("json").Data().(string)
		if sibling == "" {
			return nil, nil, errs.New(errs.ProfileInvalid, "install profile names no version JSON")
		}
		overlayRaw, err = archive.ReadEntry(installerPath, strings.TrimPrefix(sibling, "/"))
		if err != nil {
			return nil, nil, err
		}
		if overlayRaw == nil {
			return nil, nil, errs.New(errs.ArchiveInvalid, "installer missing overlay %s", sibling)
		}
	}

	// Fix up missing id/inheritsFrom on the raw document so the
	// persisted overlay stays byte-faithful to the installer's JSON
	// apart from those two keys.
	overlayDoc, err := gabs.ParseJSON(overlayRaw)
	if err != nil {
		return nil, nil, errs.Wrapf(errs.ProfileInvalid, err, "version overlay")
	}
	if id, _ := overlayDoc.Path("id").Data().(string); id == "" {
		overlayDoc.SetP(base.ID+"-"+strings.ReplaceAll(fallbackCoord, ":", "-"), "id")
	}
	if inherits, _ := overlayDoc.Path("inheritsFrom").Data().(string); inherits == "" {
		overlayDoc.SetP(base.ID, "inheritsFrom")
	}
	overlayRaw = []byte(overlayDoc.StringIndent("", "  "))

	var overlay manifest.VersionDetails
	if err := json.Unmarshal(overlayRaw, &overlay); err != nil {
		return nil, nil, errs.Wrapf(errs.ProfileInvalid, err, "version overlay")
	}

	// Persist the overlay so later launches resolve it from disk.
	versionDir := filepath.Join(deps.Root, "versions", overlay.ID)
	if err := writeFile(filepath.Join(versionDir, overlay.ID+".json"), overlayRaw); err != nil {
		return nil, nil, err
	}
	baseJar := filepath.Join(deps.Root, "versions", base.ID, base.ID+".jar")
	overlayJar := filepath.Join(versionDir, overlay.ID+".jar")
	if _, err := os.Stat(overlayJar); os.IsNotExist(err) {
		if err := copyFile(baseJar, overlayJar); err != nil {
			deps.Log.Warn().Err(err).Msg("could not copy base client jar into loader version dir")
		}
	}

	install.MinecraftJar = baseJar
	install.VersionJSON = filepath.Join(deps.Root, "versions", base.ID, base.ID+".json")

	// Universal jar extraction.
	universalCoord, _ := installDoc.Path("path").Data().(string)
	if universalCoord == "" {
		universalCoord = fallbackCoord
	}
	install.UniversalCoord = universalCoord
	universalRel := maven.CoordPath(universalCoord)
	universalDest := filepath.Join(deps.Root, "libraries", filepath.FromSlash(universalRel))

	var sourceEntry string
	if install.Legacy {
		sourceEntry, _ = installDoc.Path("filePath").Data().(string)
	} else {
		sourceEntry = "maven/" + universalRel
	}
	if sourceEntry != "" {
		if entryData, err := archive.ReadEntry(installerPath, sourceEntry); err == nil && entryData != nil {
			if err := writeFile(universalDest, entryData); err != nil {
				return nil, nil, err
			}
			deps.Log.Debug().Str("universal", universalDest).Msg("extracted universal jar")
		}
	}

	// Processors and data.
	if processors, err := installDoc.Path("processors").Children(); err == nil {
		for _, p := range processors {
			proc := Processor{Outputs: map[string]string{}}
			proc.Jar, _ = p.Path("jar").Data().(string)
			if items, err := p.Path("classpath").Children(); err == nil {
				for _, item := range items {
					if s, ok := item.Data().(string); ok {
						proc.Classpath = append(proc.Classpath, s)
					}
				}
			}
			if items, err := p.Path("args").Children(); err == nil {
				for _, item := range items {
					if s, ok := item.Data().(string); ok {
						proc.Args = append(proc.Args, s)
					}
				}
			}
			if items, err := p.Path("sides").Children(); err == nil {
				for _, item := range items {
					if s, ok := item.Data().(string); ok {
						proc.Sides = append(proc.Sides, s)
					}
				}
			}
			if outputs, err := p.Path("outputs").ChildrenMap(); err == nil {
				for k, v := range outputs {
					if s, ok := v.Data().(string); ok {
						proc.Outputs[k] = s
					}
				}
			}
			install.Processors = append(install.Processors, proc)
		}
	}

	// client.lzma sits next to the universal jar under a derived name.
	if len(install.Processors) > 0 {
		if lzma, err := archive.ReadEntry(installerPath, "data/client.lzma"); err == nil && lzma != nil {
			clientData := strings.TrimSuffix(universalDest, ".jar") + "-clientdata.lzma"
			if err := writeFile(clientData, lzma); err != nil {
				return nil, nil, err
			}
			install.ClientDataPath = clientData
		}
	}

	if err := resolveData(deps, installDoc, install); err != nil {
		return nil, nil, err
	}

	// Install-profile libraries must be materialized before processors.
	if libsRaw := installDoc.Path("libraries"); libsRaw != nil {
		var libs []forgeLibrary
		if err := json.Unmarshal([]byte(libsRaw.String()), &libs); err == nil {
			for _, fl := range libs {
				if fl.Clientreq != nil && !*fl.Clientreq {
					continue
				}
				install.Libraries = append(install.Libraries, fl.Library)
			}
		}
	}

	return &overlay, install, nil
}

// resolveData resolves the install profile's data section per side.
// Artifact references become library paths, quoted values literals, and
// embedded files are extracted next to the installer jar.
func resolveData(deps Deps, installDoc *gabs.Container, install *InstallProfile) error {
	dataMap, err := installDoc.Path("data").ChildrenMap()
	if err != nil || dataMap == nil {
		return nil
	}

	install.Data = make(map[string]DataEntry, len(dataMap))
	for name, v := range dataMap {
		entry := DataEntry{}
		for _, side := range []string{"client", "server"} {
			value, _ := v.Path(side).Data().(string)
			resolved, isArtifact, err := resolveDataValue(deps, install, value)
			if err != nil {
				return fmt.Errorf("data entry %s (%s): %w", name, side, err)
			}
			if side == "client" {
				entry.Client = resolved
				entry.ClientArtifact = isArtifact
			} else {
				entry.Server = resolved
			}
		}
		install.Data[name] = entry
	}
	return nil
}

// resolveDataValue resolves one data value and reports whether it was a
// "[coord]" artifact reference.
func resolveDataValue(deps Deps, install *InstallProfile, value string) (string, bool, error) {
	switch {
	case value == "":
		return "", false, nil
	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		rel := maven.CoordPath(strings.Trim(value, "[]"))
		return filepath.Join(deps.Root, "libraries", filepath.FromSlash(rel)), true, nil
	case strings.HasPrefix(value, "'"):
		return strings.Trim(value, "'"), false, nil
	default:
		// A file embedded in the installer, extracted beside it.
		entry := strings.TrimPrefix(value, "/")
		data, err := archive.ReadEntry(install.InstallerPath, entry)
		if err != nil {
			return "", false, err
		}
		if data == nil {
			return "", false, errs.New(errs.ArchiveInvalid, "installer missing data file %s", entry)
		}
		dest := filepath.Join(filepath.Dir(install.InstallerPath), filepath.FromSlash(entry))
		if err := writeFile(dest, data); err != nil {
			return "", false, err
		}
		return dest, false, nil
	}
}

// planInstallerLibraries materializes the install profile's and the
// overlay's libraries. Entries whose declared URL is empty were just
// produced by the universal extraction (or live under the installer's
// maven/ tree) and are pulled from the archive instead of the network.
func planInstallerLibraries(ctx context.Context, deps Deps, install *InstallProfile, overlay *manifest.VersionDetails) error {
	osInfo := rules.Current()
	libDir := filepath.Join(deps.Root, "libraries")

	var tasks []download.Task
	seen := make(map[string]bool)
	all := make([]manifest.Library, 0, len(install.Libraries)+len(overlay.Libraries))
	all = append(all, install.Libraries...)
	all = append(all, overlay.Libraries...)

	for _, lib := range all {
		if seen[lib.Name] {
			continue
		}
		seen[lib.Name] = true
		if !rules.Allowed(lib.Rules, osInfo, nil) {
			continue
		}

		if lib.Downloads != nil && lib.Downloads.Artifact != nil {
			art := lib.Downloads.Artifact
			dest := filepath.Join(libDir, filepath.FromSlash(art.Path))
			if art.URL == "" {
				// Produced by the universal extraction, or embedded
				// under maven/ in the installer.
				if _, err := os.Stat(dest); err == nil {
					continue
				}
				if data, err := archive.ReadEntry(install.InstallerPath, "maven/"+art.Path); err == nil && data != nil {
					if err := writeFile(dest, data); err != nil {
						return err
					}
				}
				continue
			}
			if hash, err := maven.Sha1File(dest); err == nil && (art.SHA1 == "" || strings.EqualFold(hash, art.SHA1)) {
				continue
			}
			tasks = append(tasks, download.Task{
				URL:  art.URL,
				Dir:  filepath.Dir(dest),
				Name: filepath.Base(dest),
				SHA1: art.SHA1,
				Size: art.Size,
			})
			continue
		}

		// Legacy {name, url} form: the repository base plus the Maven
		// path, with a pack.xz attempt first the way old Forge mirrors
		// served it.
		rel := maven.CoordPath(lib.Name)
		dest := filepath.Join(libDir, filepath.FromSlash(rel))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		repo := lib.URL
		if repo == "" {
			repo = mojangLibsBase
		}
		rawURL := strings.TrimSuffix(repo, "/") + "/" + rel
		if install.Legacy {
			if err := downloadPackXz(ctx, deps, rawURL, dest); err == nil {
				continue
			}
		}
		tasks = append(tasks, download.Task{URL: rawURL, Dir: filepath.Dir(dest), Name: filepath.Base(dest)})
	}

	result, err := deps.Mgr.DownloadMany(ctx, tasks, 0, 0)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return errs.New(errs.Network, "%d loader libraries failed to download", result.Failed)
	}
	return nil
}
