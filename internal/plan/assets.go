package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
)

const assetObjectsBaseURL = "https://resources.download.minecraft.net"

// AssetsDir is the shared content-addressed asset store.
func (p *Planner) AssetsDir() string { return filepath.Join(p.Root, "assets") }

// Assets downloads the asset index (verifying its declared hash) and
// plans the content-addressed object downloads. The returned index is
// needed afterwards for legacy shadow-tree copies.
func (p *Planner) Assets(ctx context.Context, details *manifest.VersionDetails) (*Plan, *manifest.AssetIndex, error) {
	ref := details.AssetIndex
	if ref.ID == "" {
		return &Plan{}, nil, nil
	}

	indexDir := filepath.Join(p.AssetsDir(), "indexes")
	indexPath := filepath.Join(indexDir, ref.ID+".json")
	if !p.upToDate(indexPath, ref.SHA1) {
		if err := p.mgr.DownloadOne(ctx, download.Task{
			URL:  ref.URL,
			Dir:  indexDir,
			Name: ref.ID + ".json",
			SHA1: ref.SHA1,
			Size: ref.Size,
		}); err != nil {
			return nil, nil, fmt.Errorf("downloading asset index: %w", err)
		}
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading asset index: %w", err)
	}
	var index manifest.AssetIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, nil, errs.Wrapf(errs.ProfileInvalid, err, "parsing asset index %s", ref.ID)
	}

	out := &Plan{}
	i := 0
	total := len(index.Objects)
	for _, obj := range index.Objects {
		i++
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(obj.Hash) < 2 {
			continue
		}
		p.bus.Emit(events.Check{Index: i, Total: total, What: "asset"})

		prefix := obj.Hash[:2]
		dest := filepath.Join(p.AssetsDir(), "objects", prefix, obj.Hash)
		if p.upToDate(dest, obj.Hash) {
			continue
		}
		out.Tasks = append(out.Tasks, download.Task{
			URL:  fmt.Sprintf("%s/%s/%s", assetObjectsBaseURL, prefix, obj.Hash),
			Dir:  filepath.Dir(dest),
			Name: obj.Hash,
			SHA1: obj.Hash,
			Size: obj.Size,
		})
		out.TotalBytes += obj.Size
	}
	return out, &index, nil
}

// IsLegacyAssets reports whether the index requires the pre-1.6 shadow
// tree under resources/.
func IsLegacyAssets(id string, index *manifest.AssetIndex) bool {
	if index != nil && (index.Virtual || index.MapToResource) {
		return true
	}
	return id == "legacy" || id == "pre-1.6"
}

// CopyLegacyAssets mirrors content-addressed objects into the legacy
// resources/ tree under their virtual paths. Copies are skipped when
// the destination already exists with the right size.
func (p *Planner) CopyLegacyAssets(index *manifest.AssetIndex, gameDir string) error {
	resourcesDir := filepath.Join(gameDir, "resources")
	for virtualPath, obj := range index.Objects {
		if len(obj.Hash) < 2 {
			continue
		}
		src := filepath.Join(p.AssetsDir(), "objects", obj.Hash[:2], obj.Hash)
		dst := filepath.Join(resourcesDir, filepath.FromSlash(virtualPath))

		if info, err := os.Stat(dst); err == nil && info.Size() == obj.Size {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copying legacy asset %s: %w", virtualPath, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
