package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/archive"
	"github.com/plainprince/mc-launcher/internal/maven"
)

// RunProcessors executes the install profile's client-side processors
// in order, each as a child JVM whose output is routed to patch events.
// A non-zero exit is recorded; the run fails with PatchFailed when no
// processor after the failure succeeds (or immediately under
// StrictPatch).
func RunProcessors(ctx context.Context, deps Deps, install *InstallProfile) error {
	if patchOutputsPresent(install) {
		deps.Log.Info().Msg("processor outputs already present, skipping patch")
		return nil
	}

	java := deps.JavaExecutable
	if java == "" {
		java = "java"
	}
	libDir := filepath.Join(deps.Root, "libraries")

	var lastErr error
	for i, proc := range install.Processors {
		if !sideAllows(proc.Sides, "client") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errs.Wrap(errs.Aborted, err)
		}

		jarPath := filepath.Join(libDir, filepath.FromSlash(maven.CoordPath(proc.Jar)))
		classpath := []string{jarPath}
		for _, coord := range proc.Classpath {
			classpath = append(classpath, filepath.Join(libDir, filepath.FromSlash(maven.CoordPath(coord))))
		}

		mainClass, err := archive.MainClass(jarPath)
		if err != nil {
			lastErr = fmt.Errorf("processor %s: %w", proc.Jar, err)
			deps.Log.Error().Err(lastErr).Msg("processor jar unusable")
			if deps.StrictPatch {
				return errs.Wrap(errs.PatchFailed, lastErr)
			}
			continue
		}

		args, err := substituteArgs(deps, install, proc.Args)
		if err != nil {
			return errs.Wrap(errs.PatchFailed, err)
		}

		cmdArgs := append([]string{"-classpath", strings.Join(classpath, string(os.PathListSeparator)), mainClass}, args...)
		deps.Log.Info().Int("index", i+1).Int("total", len(install.Processors)).Str("jar", proc.Jar).Msg("running processor")

		cmd := exec.CommandContext(ctx, java, cmdArgs...)
		stdout, _ := cmd.StdoutPipe()
		stderr, _ := cmd.StderrPipe()
		if err := cmd.Start(); err != nil {
			return errs.Wrapf(errs.PatchFailed, err, "spawning processor %s", proc.Jar)
		}

		done := make(chan struct{}, 2)
		stream := func(r io.Reader) {
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				deps.Bus.Emit(events.Patch{Chunk: scanner.Text()})
			}
			done <- struct{}{}
		}
		go stream(stdout)
		go stream(stderr)
		<-done
		<-done

		if err := cmd.Wait(); err != nil {
			lastErr = fmt.Errorf("processor %s: %w", proc.Jar, err)
			deps.Bus.Emit(events.Error{ErrKind: string(errs.PatchFailed), Detail: proc.Jar})
			deps.Log.Error().Err(err).Str("jar", proc.Jar).Msg("processor exited non-zero")
			if deps.StrictPatch {
				return errs.Wrap(errs.PatchFailed, lastErr)
			}
			continue
		}
		if lastErr != nil {
			// A later processor succeeded; the failure stands in the log
			// but does not abort the launch.
			deps.Log.Warn().Err(lastErr).Msg("a processor failed but later steps succeeded")
		}
		lastErr = nil
	}

	if lastErr != nil {
		return errs.Wrap(errs.PatchFailed, lastErr)
	}
	return nil
}

// patchOutputsPresent reports whether every data entry that came from a
// "[coord]" artifact reference already exists on disk, which marks a
// previously completed run.
func patchOutputsPresent(install *InstallProfile) bool {
	checked := 0
	for _, entry := range install.Data {
		if !entry.ClientArtifact {
			continue
		}
		checked++
		if _, err := os.Stat(entry.Client); err != nil {
			return false
		}
	}
	return checked > 0
}

func sideAllows(sides []string, side string) bool {
	if len(sides) == 0 {
		return true
	}
	for _, s := range sides {
		if s == side {
			return true
		}
	}
	return false
}

// substituteArgs expands {TOKEN} and [coordinate] template arguments.
// Data entries win over reserved tokens; unknown tokens fail the patch.
func substituteArgs(deps Deps, install *InstallProfile, args []string) ([]string, error) {
	libDir := filepath.Join(deps.Root, "libraries")
	reserved := map[string]string{
		"SIDE":              "client",
		"ROOT":              filepath.Dir(filepath.Dir(install.InstallerPath)),
		"MINECRAFT_JAR":     install.MinecraftJar,
		"MINECRAFT_VERSION": install.VersionJSON,
		"INSTALLER":         libDir,
		"LIBRARY_DIR":       libDir,
	}

	out := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "{") && strings.HasSuffix(arg, "}"):
			token := strings.Trim(arg, "{}")
			if entry, ok := install.Data[token]; ok {
				out = append(out, entry.Client)
				continue
			}
			if token == "BINPATCH" {
				out = append(out, install.ClientDataPath)
				continue
			}
			if v, ok := reserved[token]; ok {
				out = append(out, v)
				continue
			}
			return nil, fmt.Errorf("unknown processor token {%s}", token)
		case strings.HasPrefix(arg, "[") && strings.HasSuffix(arg, "]"):
			rel := maven.CoordPath(strings.Trim(arg, "[]"))
			out = append(out, filepath.Join(libDir, filepath.FromSlash(rel)))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}
