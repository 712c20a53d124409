// Package plan turns a merged version descriptor into a concrete
// download plan, classpath, and native-extraction list for the running
// platform.
package plan

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/maven"
	"github.com/plainprince/mc-launcher/internal/rules"
)

// ClasspathEntry is one library accepted for the classpath, keyed by
// its Maven coordinate for downstream deduplication.
type ClasspathEntry struct {
	Coord string
	Path  string
}

// Native is one platform classifier jar scheduled for extraction.
type Native struct {
	Coord   string
	JarPath string
	Exclude []string
}

// Plan is the planner's output for one version.
type Plan struct {
	Tasks      []download.Task
	Classpath  []ClasspathEntry
	Natives    []Native
	TotalBytes int64
}

// Planner evaluates platform rules and disk state to build plans.
type Planner struct {
	Root     string
	OS       rules.OS
	Features map[string]bool
	Mirrors  []string

	mgr *download.Manager
	bus *events.Bus
	log zerolog.Logger
}

// NewPlanner creates a planner rooted at root for the given platform.
func NewPlanner(root string, os rules.OS, mgr *download.Manager, bus *events.Bus, log zerolog.Logger) *Planner {
	return &Planner{Root: root, OS: os, mgr: mgr, bus: bus, log: log}
}

// LibrariesDir is the shared Maven-layout library tree.
func (p *Planner) LibrariesDir() string { return filepath.Join(p.Root, "libraries") }

// Libraries walks the descriptor's library list, applies platform
// rules, and emits the download plan, the ordered classpath, and the
// native-extraction list. When two libraries share a coordinate the
// last declared wins for planning, matching the merge order downstream.
func (p *Planner) Libraries(ctx context.Context, details *manifest.VersionDetails) (*Plan, error) {
	out := &Plan{}

	// Last-declared-wins: keep only the final occurrence per coordinate.
	type planned struct {
		lib manifest.Library
	}
	byCoord := make(map[string]int)
	var order []planned
	for _, lib := range details.Libraries {
		if !rules.Allowed(lib.Rules, p.OS, p.Features) {
			p.log.Debug().Str("library", lib.Name).Msg("skipped by platform rules")
			continue
		}
		if i, ok := byCoord[lib.Name]; ok {
			order[i] = planned{lib: lib}
			continue
		}
		byCoord[lib.Name] = len(order)
		order = append(order, planned{lib: lib})
	}

	total := len(order)
	for i, pl := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lib := pl.lib
		p.bus.Emit(events.Check{Index: i + 1, Total: total, What: "library"})

		if key, ok := lib.Natives[p.OS.Family]; ok {
			classifier := strings.ReplaceAll(key, "${arch}", p.OS.Bits())
			native, task, err := p.planNative(ctx, lib, classifier)
			if err != nil {
				return nil, err
			}
			if native != nil {
				out.Natives = append(out.Natives, *native)
			}
			if task != nil {
				out.Tasks = append(out.Tasks, *task)
				out.TotalBytes += task.Size
			}
			// A natives-only library may still carry a plain artifact
			// for the classpath.
			if lib.Downloads == nil || lib.Downloads.Artifact == nil {
				continue
			}
		}

		entry, task, err := p.planArtifact(ctx, lib)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out.Classpath = append(out.Classpath, *entry)
		}
		if task != nil {
			out.Tasks = append(out.Tasks, *task)
			out.TotalBytes += task.Size
		}
	}

	return out, nil
}

// planArtifact resolves the plain artifact of a library: either the
// declared downloads.artifact, or the Maven coordinate against the
// library's repository URL or the configured mirrors.
func (p *Planner) planArtifact(ctx context.Context, lib manifest.Library) (*ClasspathEntry, *download.Task, error) {
	libDir := p.LibrariesDir()

	if lib.Downloads != nil && lib.Downloads.Artifact != nil {
		art := lib.Downloads.Artifact
		relPath := filepath.FromSlash(art.Path)
		dest := filepath.Join(libDir, relPath)
		entry := &ClasspathEntry{Coord: lib.Name, Path: dest}

		// Empty URL means the artifact was materialized by an installer
		// step; it contributes to the classpath but not the plan.
		if art.URL == "" {
			return entry, nil, nil
		}
		if p.upToDate(dest, art.SHA1) {
			return entry, nil, nil
		}
		return entry, &download.Task{
			URL:  art.URL,
			Dir:  filepath.Dir(dest),
			Name: filepath.Base(dest),
			SHA1: art.SHA1,
			Size: art.Size,
		}, nil
	}

	// Coordinate-only library: resolve against its repository or the
	// mirror list.
	art, err := maven.Parse(lib.Name)
	if err != nil {
		return nil, nil, err
	}
	relPath := art.Path()
	dest := filepath.Join(libDir, filepath.FromSlash(relPath))
	entry := &ClasspathEntry{Coord: lib.Name, Path: dest}

	if p.upToDate(dest, "") {
		return entry, nil, nil
	}

	var sourceURL string
	if lib.URL != "" {
		sourceURL, err = url.JoinPath(lib.URL, relPath)
		if err != nil {
			return nil, nil, err
		}
	} else if info := p.mgr.MirrorProbe(ctx, relPath, p.Mirrors); info != nil {
		sourceURL = info.URL
	} else {
		p.log.Warn().Str("library", lib.Name).Msg("no source for coordinate-only library")
		return entry, nil, nil
	}

	return entry, &download.Task{
		URL:  sourceURL,
		Dir:  filepath.Dir(dest),
		Name: filepath.Base(dest),
	}, nil
}

// planNative resolves the platform classifier artifact of a library.
func (p *Planner) planNative(ctx context.Context, lib manifest.Library, classifier string) (*Native, *download.Task, error) {
	var exclude []string
	if lib.Extract != nil {
		exclude = lib.Extract.Exclude
	}

	if lib.Downloads != nil && lib.Downloads.Classifiers != nil {
		art, ok := lib.Downloads.Classifiers[classifier]
		if !ok || art == nil {
			p.log.Debug().Str("library", lib.Name).Str("classifier", classifier).Msg("no native classifier for platform")
			return nil, nil, nil
		}
		dest := filepath.Join(p.LibrariesDir(), filepath.FromSlash(art.Path))
		native := &Native{Coord: lib.Name, JarPath: dest, Exclude: exclude}
		if p.upToDate(dest, art.SHA1) {
			return native, nil, nil
		}
		return native, &download.Task{
			URL:  art.URL,
			Dir:  filepath.Dir(dest),
			Name: filepath.Base(dest),
			SHA1: art.SHA1,
			Size: art.Size,
		}, nil
	}

	// Classifier expressed only through the coordinate.
	art, err := maven.Parse(lib.Name + ":" + classifier)
	if err != nil {
		return nil, nil, err
	}
	relPath := art.Path()
	dest := filepath.Join(p.LibrariesDir(), filepath.FromSlash(relPath))
	native := &Native{Coord: lib.Name, JarPath: dest, Exclude: exclude}
	if p.upToDate(dest, "") {
		return native, nil, nil
	}
	if info := p.mgr.MirrorProbe(ctx, relPath, p.Mirrors); info != nil {
		return native, &download.Task{URL: info.URL, Dir: filepath.Dir(dest), Name: filepath.Base(dest)}, nil
	}
	return native, nil, nil
}

// upToDate reports whether the on-disk file can be reused: present and,
// when a hash is declared, matching it.
func (p *Planner) upToDate(path, sha1 string) bool {
	got, err := maven.Sha1File(path)
	if err != nil {
		return false
	}
	if sha1 == "" {
		return true
	}
	return strings.EqualFold(got, sha1)
}
