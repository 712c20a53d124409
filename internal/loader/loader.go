// Package loader installs mod loaders (Fabric, Legacy Fabric, Quilt,
// Forge, NeoForge) by producing an overlay version profile on top of
// the base game, optionally running installer processors.
package loader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
)

// Type names a supported loader flavor.
type Type string

const (
	Fabric       Type = "fabric"
	LegacyFabric Type = "legacyfabric"
	Quilt        Type = "quilt"
	Forge        Type = "forge"
	NeoForge     Type = "neoforge"
)

// Build aliases accepted in place of a literal loader build.
const (
	BuildLatest      = "latest"
	BuildRecommended = "recommended"
)

// Spec is the caller's loader request.
type Spec struct {
	Type  Type
	Build string // literal build, "latest", or "recommended"
}

// Profile is a loader's contribution to the launch: an overlay
// descriptor to merge over the base manifest and, for the Forge family,
// an install profile whose processors must run before launch.
type Profile struct {
	VersionID string
	Overlay   *manifest.VersionDetails
	Install   *InstallProfile
}

// Deps carries the shared collaborators every backend needs.
type Deps struct {
	Root           string
	Mgr            *download.Manager
	Bus            *events.Bus
	Log            zerolog.Logger
	Mirrors        []string
	JavaExecutable string // used by the patcher for processor JVMs
	StrictPatch    bool   // first processor failure aborts the install
}

// Resolve dispatches to the flavor backend and returns its profile.
// The base descriptor must already be resolved; backends validate that
// their meta endpoint supports base.ID.
func Resolve(ctx context.Context, deps Deps, spec Spec, base *manifest.VersionDetails) (*Profile, error) {
	switch spec.Type {
	case Fabric, LegacyFabric, Quilt:
		return installFabricLike(ctx, deps, spec.Type, spec.Build, base)
	case Forge:
		return installForge(ctx, deps, spec.Build, base)
	case NeoForge:
		return installNeoForge(ctx, deps, spec.Build, base)
	default:
		return nil, errs.New(errs.NotFound, "unknown loader flavor %q", spec.Type)
	}
}

// newMetaClient builds the retrying HTTP client the meta fetchers share.
func newMetaClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second
	return retryClient.StandardClient()
}

// getRaw fetches a URL's body as raw bytes, mapping 404 onto NotFound.
func getRaw(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Network, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Aborted, ctx.Err())
		}
		return nil, errs.Wrapf(errs.Network, err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errs.New(errs.NotFound, "%s answered 404", url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Network, "unexpected status %d for %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrapf(errs.Network, err, "reading %s", url)
	}
	return body, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	body, err := getRaw(ctx, client, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Wrapf(errs.ProfileInvalid, err, "decoding %s", url)
	}
	return nil
}
