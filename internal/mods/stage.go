// Package mods stages user mods into an instance before launch.
package mods

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/plainprince/mc-launcher/internal/download"
)

// Stager copies and downloads mods into <instance>/mods. Failures are
// logged and counted but never fatal.
type Stager struct {
	Mgr *download.Manager
	Log zerolog.Logger
}

// Result summarizes a staging run.
type Result struct {
	Staged  int
	Skipped int
	Failed  int
}

// Stage downloads each mod URL (skipping files that already exist) and
// copies local custom-mod jars into the instance's mods directory.
func (s *Stager) Stage(ctx context.Context, instanceDir string, urls []string, localDirs []string) Result {
	modsDir := filepath.Join(instanceDir, "mods")
	var res Result
	if err := os.MkdirAll(modsDir, 0o755); err != nil {
		s.Log.Error().Err(err).Msg("could not create mods directory")
		res.Failed = len(urls)
		return res
	}

	var staged, skipped, failed int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, rawURL := range urls {
		rawURL := rawURL
		g.Go(func() error {
			name := fileNameFromURL(rawURL)
			if name == "" {
				s.Log.Warn().Str("url", rawURL).Msg("cannot derive mod file name")
				atomic.AddInt64(&failed, 1)
				return nil
			}
			dest := filepath.Join(modsDir, name)
			if _, err := os.Stat(dest); err == nil {
				atomic.AddInt64(&skipped, 1)
				return nil
			}
			if err := s.Mgr.DownloadOne(ctx, download.Task{URL: rawURL, Dir: modsDir, Name: name}); err != nil {
				s.Log.Warn().Err(err).Str("url", rawURL).Msg("mod download failed")
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&staged, 1)
			return nil
		})
	}
	_ = g.Wait()

	for _, dir := range localDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.Log.Warn().Err(err).Str("dir", dir).Msg("cannot read custom mods directory")
			failed++
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".jar") || strings.Contains(name, "sources") {
				continue
			}
			dest := filepath.Join(modsDir, name)
			if _, err := os.Stat(dest); err == nil {
				skipped++
				continue
			}
			if err := copyFile(filepath.Join(dir, name), dest); err != nil {
				s.Log.Warn().Err(err).Str("mod", name).Msg("mod copy failed")
				failed++
				continue
			}
			staged++
		}
	}

	res.Staged = int(staged)
	res.Skipped = int(skipped)
	res.Failed = int(failed)
	s.Log.Info().Int("staged", res.Staged).Int("skipped", res.Skipped).Int("failed", res.Failed).Msg("mod staging done")
	return res
}

// fileNameFromURL derives the destination file name from the URL path,
// dropping any query string.
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return name
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
