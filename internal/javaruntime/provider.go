package javaruntime

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
)

const allRuntimesURL = "https://piston-meta.mojang.com/v1/products/java-runtime/2ec73ff05cd2ab8b2c97fe103fa92a9c9972d9ae/all.json"

// runtimeEntry is one available build of a runtime component.
type runtimeEntry struct {
	Manifest struct {
		SHA1 string `json:"sha1"`
		Size int64  `json:"size"`
		URL  string `json:"url"`
	} `json:"manifest"`
	Version struct {
		Name string `json:"name"`
	} `json:"version"`
}

// runtimeManifest lists the files of one runtime build.
type runtimeManifest struct {
	Files map[string]struct {
		Type       string `json:"type"` // file, directory, link
		Executable bool   `json:"executable"`
		Target     string `json:"target,omitempty"`
		Downloads  struct {
			Raw struct {
				SHA1 string `json:"sha1"`
				Size int64  `json:"size"`
				URL  string `json:"url"`
			} `json:"raw"`
		} `json:"downloads"`
	} `json:"files"`
}

// Provider selects or downloads a Java runtime for a manifest's
// javaVersion requirement.
type Provider struct {
	root       string
	httpClient *http.Client
	mgr        *download.Manager
	bus        *events.Bus
	log        zerolog.Logger
	allURL     string
}

// NewProvider creates a provider rooted at root.
func NewProvider(root string, mgr *download.Manager, bus *events.Bus, log zerolog.Logger) *Provider {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &Provider{
		root:       root,
		httpClient: retryClient.StandardClient(),
		mgr:        mgr,
		bus:        bus,
		log:        log,
		allURL:     allRuntimesURL,
	}
}

// SetManifestURL overrides the runtime-manifest endpoint (tests).
func (p *Provider) SetManifestURL(u string) { p.allURL = u }

// Executable returns an absolute path to a Java binary for the given
// component and major version. A caller-supplied override wins
// unconditionally; otherwise the local registry, the system, and
// finally a Mojang runtime download are consulted in that order.
func (p *Provider) Executable(ctx context.Context, component string, major int, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if component == "" {
		component = "jre-legacy"
	}

	installDir := filepath.Join(p.root, "runtime", component, platformKey())
	if exe := p.findExecutable(installDir); exe != "" {
		p.log.Debug().Str("component", component).Str("java", exe).Msg("using registered runtime")
		return exe, nil
	}

	if major > 0 {
		if exe := p.systemJava(ctx, major); exe != "" {
			p.log.Info().Str("java", exe).Msg("using system Java")
			return exe, nil
		}
	}

	exe, err := p.install(ctx, component, installDir)
	if err != nil {
		return "", err
	}
	return exe, nil
}

// install fetches the Mojang runtime manifest for component and
// materializes the platform build under installDir.
func (p *Provider) install(ctx context.Context, component, installDir string) (string, error) {
	var all map[string]map[string][]runtimeEntry
	if err := p.getJSON(ctx, p.allURL, &all); err != nil {
		return "", err
	}

	platform, ok := all[platformKey()]
	if !ok {
		return "", errs.New(errs.JavaMissing, "no runtimes published for platform %s", platformKey())
	}
	entries := platform[component]
	if len(entries) == 0 {
		return "", errs.New(errs.JavaMissing, "runtime component %s unavailable on %s", component, platformKey())
	}
	entry := entries[0]

	p.log.Info().Str("component", component).Str("version", entry.Version.Name).Msg("downloading Java runtime")

	var mf runtimeManifest
	if err := p.getJSON(ctx, entry.Manifest.URL, &mf); err != nil {
		return "", err
	}

	var tasks []download.Task
	var total int64
	var executables []string
	for relPath, file := range mf.Files {
		dest := filepath.Join(installDir, filepath.FromSlash(relPath))
		switch file.Type {
		case "directory":
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return "", err
			}
		case "link":
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return "", err
			}
			os.Remove(dest)
			if err := os.Symlink(file.Target, dest); err != nil {
				p.log.Warn().Err(err).Str("path", relPath).Msg("could not create runtime symlink")
			}
		case "file":
			tasks = append(tasks, download.Task{
				URL:  file.Downloads.Raw.URL,
				Dir:  filepath.Dir(dest),
				Name: filepath.Base(dest),
				SHA1: file.Downloads.Raw.SHA1,
				Size: file.Downloads.Raw.Size,
			})
			total += file.Downloads.Raw.Size
			if file.Executable {
				executables = append(executables, dest)
			}
		}
	}

	result, err := p.mgr.DownloadMany(ctx, tasks, total, 0)
	if err != nil {
		return "", err
	}
	if result.Failed > 0 {
		return "", errs.New(errs.JavaMissing, "%d runtime files failed to download", result.Failed)
	}

	for _, exe := range executables {
		if err := os.Chmod(exe, 0o755); err != nil {
			p.log.Warn().Err(err).Str("path", exe).Msg("could not mark runtime file executable")
		}
	}

	exe := p.findExecutable(installDir)
	if exe == "" {
		return "", errs.New(errs.JavaMissing, "runtime %s downloaded but no java binary found", component)
	}
	return exe, nil
}

// findExecutable looks for bin/java under dir, including the macOS
// jre.bundle layout.
func (p *Provider) findExecutable(dir string) string {
	binName := "java"
	if runtime.GOOS == "windows" {
		binName = "java.exe"
	}
	candidates := []string{
		filepath.Join(dir, "bin", binName),
		filepath.Join(dir, "jre.bundle", "Contents", "Home", "bin", binName),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// platformKey maps the running platform onto Mojang's runtime keys.
func platformKey() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-os-arm64"
		}
		return "mac-os"
	case "windows":
		if runtime.GOARCH == "386" {
			return "windows-x86"
		}
		if runtime.GOARCH == "arm64" {
			return "windows-arm64"
		}
		return "windows-x64"
	default:
		if runtime.GOARCH == "386" {
			return "linux-i386"
		}
		return "linux"
	}
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.Network, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errs.Wrapf(errs.Network, err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.New(errs.Network, "unexpected status %d for %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrapf(errs.ProfileInvalid, err, "decoding %s", url)
	}
	return nil
}
