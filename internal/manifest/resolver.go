package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
)

const defaultIndexURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

// Resolver fetches the version index and per-version JSON, follows
// inheritsFrom chains, and persists the results under versions/.
type Resolver struct {
	httpClient *http.Client
	rootDir    string
	indexURL   string
	bus        *events.Bus
	log        zerolog.Logger

	index        *Index
	indexFetched time.Time
	indexTTL     time.Duration
}

// NewResolver creates a resolver rooted at rootDir.
func NewResolver(rootDir string, bus *events.Bus, log zerolog.Logger) *Resolver {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &Resolver{
		httpClient: retryClient.StandardClient(),
		rootDir:    rootDir,
		indexURL:   defaultIndexURL,
		bus:        bus,
		log:        log,
		indexTTL:   5 * time.Minute,
	}
}

// SetIndexURL overrides the upstream version-manifest URL (tests).
func (r *Resolver) SetIndexURL(u string) { r.indexURL = u }

// Index fetches the version index, caching it for a short TTL.
func (r *Resolver) Index(ctx context.Context) (*Index, error) {
	if r.index != nil && time.Since(r.indexFetched) < r.indexTTL {
		return r.index, nil
	}

	var idx Index
	if err := r.getJSON(ctx, r.indexURL, &idx); err != nil {
		return nil, err
	}
	r.index = &idx
	r.indexFetched = time.Now()
	return &idx, nil
}

// ResolveID expands the latest_release/latest_snapshot aliases against
// the index's latest field.
func (r *Resolver) ResolveID(ctx context.Context, id string) (string, error) {
	switch id {
	case AliasLatestRelease:
		idx, err := r.Index(ctx)
		if err != nil {
			return "", err
		}
		return idx.Latest.Release, nil
	case AliasLatestSnapshot:
		idx, err := r.Index(ctx)
		if err != nil {
			return "", err
		}
		return idx.Latest.Snapshot, nil
	default:
		return id, nil
	}
}

// Resolve loads the merged VersionDetails for id, following the
// inheritsFrom chain, and persists the merged JSON under
// versions/<id>/<id>.json. The merge happens over the raw documents so
// keys the typed model does not know survive into the persisted file.
func (r *Resolver) Resolve(ctx context.Context, id string) (*VersionDetails, error) {
	id, err := r.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := r.loadRaw(ctx, id, map[string]bool{})
	if err != nil {
		return nil, err
	}

	var details VersionDetails
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "version %s", id)
	}
	if err := r.validate(&details); err != nil {
		return nil, err
	}

	if err := r.persist(details.ID, raw); err != nil {
		r.log.Warn().Err(err).Str("version", details.ID).Msg("could not persist merged version JSON")
	}
	return &details, nil
}

// loadRaw fetches one version's raw JSON and merges its parent chain.
// seen guards against inheritance cycles.
func (r *Resolver) loadRaw(ctx context.Context, id string, seen map[string]bool) ([]byte, error) {
	if seen[id] {
		return nil, errs.New(errs.ProfileInvalid, "inheritance cycle at %s", id)
	}
	seen[id] = true

	raw, err := r.loadOneRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	var peek struct {
		InheritsFrom string `json:"inheritsFrom"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "version %s", id)
	}

	if peek.InheritsFrom != "" {
		r.log.Debug().Str("child", id).Str("parent", peek.InheritsFrom).Msg("following inheritsFrom")
		parentRaw, err := r.loadRaw(ctx, peek.InheritsFrom, seen)
		if err != nil {
			return nil, fmt.Errorf("loading parent %s: %w", peek.InheritsFrom, err)
		}
		raw, err = MergeRaw(parentRaw, raw)
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// loadOneRaw reads a single version JSON, preferring the locally
// persisted copy (loader overlays only exist on disk) before consulting
// the index.
func (r *Resolver) loadOneRaw(ctx context.Context, id string) ([]byte, error) {
	localPath := filepath.Join(r.rootDir, "versions", id, id+".json")
	if data, err := os.ReadFile(localPath); err == nil {
		return data, nil
	}

	idx, err := r.Index(ctx)
	if err != nil {
		return nil, err
	}

	var entry *Version
	for i := range idx.Versions {
		if idx.Versions[i].ID == id {
			entry = &idx.Versions[i]
			break
		}
	}
	if entry == nil {
		return nil, errs.New(errs.NotFound, "version %s not in manifest", id)
	}

	raw, err := r.getRaw(ctx, entry.URL)
	if err != nil {
		return nil, err
	}
	var peek struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil || peek.ID == "" {
		return nil, errs.New(errs.ProfileInvalid, "version JSON for %s carries no id", id)
	}
	return raw, nil
}

// DownloadClientJar fetches the version's client jar to
// versions/<id>/<id>.jar, verifying its declared hash.
func (r *Resolver) DownloadClientJar(ctx context.Context, details *VersionDetails, mgr *download.Manager) (string, error) {
	client := details.Downloads.Client
	if client == nil {
		return "", errs.New(errs.ProfileInvalid, "version %s has no client download", details.ID)
	}

	dir := filepath.Join(r.rootDir, "versions", details.ID)
	name := details.ID + ".jar"
	if err := mgr.DownloadOne(ctx, download.Task{
		URL:  client.URL,
		Dir:  dir,
		Name: name,
		SHA1: client.SHA1,
		Size: client.Size,
	}); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// validate enforces the post-merge invariants: a main class, a client
// jar, and a non-empty argument surface.
func (r *Resolver) validate(d *VersionDetails) error {
	if d.MainClass == "" {
		return errs.New(errs.ProfileInvalid, "version %s has no mainClass after merge", d.ID)
	}
	if d.Downloads.Client == nil || d.Downloads.Client.URL == "" {
		return errs.New(errs.ProfileInvalid, "version %s has no client jar download", d.ID)
	}
	if d.MinecraftArguments == "" && (d.Arguments == nil || len(d.Arguments.Game) == 0) {
		return errs.New(errs.ProfileInvalid, "version %s declares no game arguments", d.ID)
	}
	return nil
}

// persist writes the merged raw document to versions/<id>/<id>.json.
func (r *Resolver) persist(id string, raw []byte) error {
	dir := filepath.Join(r.rootDir, "versions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, id+".json"), indented.Bytes(), 0o644)
}

// getRaw fetches a URL's body as raw bytes.
func (r *Resolver) getRaw(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Network, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Aborted, ctx.Err())
		}
		return nil, errs.Wrapf(errs.Network, err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Network, "unexpected status %d for %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrapf(errs.Network, err, "reading %s", url)
	}
	return body, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.Network, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Aborted, ctx.Err())
		}
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
