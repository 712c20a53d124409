package plan

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
)

// NativesDir is the flat extraction target for one version.
func (p *Planner) NativesDir(versionID string) string {
	return filepath.Join(p.Root, "natives", versionID)
}

// ExtractNatives unpacks every planned native jar into
// natives/<versionID>/, honoring each library's exclude globs. Entries
// are written through a temp name so a cancelled run leaves no partial
// files behind.
func (p *Planner) ExtractNatives(natives []Native, versionID string) error {
	if len(natives) == 0 {
		return nil
	}
	destDir := p.NativesDir(versionID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	for _, native := range natives {
		if err := p.extractOne(native, destDir); err != nil {
			return fmt.Errorf("extracting %s: %w", native.Coord, err)
		}
	}
	return nil
}

func (p *Planner) extractOne(native Native, destDir string) error {
	r, err := zip.OpenReader(native.JarPath)
	if err != nil {
		return errs.Wrapf(errs.ArchiveInvalid, err, "open %s", native.JarPath)
	}
	defer r.Close()

	exclude := native.Exclude
	if len(exclude) == 0 {
		exclude = []string{"META-INF/"}
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || excluded(f.Name, exclude) {
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return errs.Wrapf(errs.ArchiveInvalid, err, "open entry %s", f.Name)
		}

		tmp := dest + ".tmp"
		out, err := os.Create(tmp)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return err
		}

		p.bus.Emit(events.Extract{Name: f.Name})
	}
	return nil
}

func excluded(name string, patterns []string) bool {
	for _, pat := range patterns {
		if strings.HasPrefix(name, pat) {
			return true
		}
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
