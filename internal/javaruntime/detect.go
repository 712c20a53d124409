package javaruntime

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// systemJava probes the host for an installed runtime that satisfies
// the required major version and returns its path, or "" when nothing
// suitable exists. Candidates come from JAVA_HOME, PATH, and the
// platform's conventional install roots; the smallest satisfying major
// wins so a launch never grabs a newer runtime than it needs.
func (p *Provider) systemJava(ctx context.Context, major int) string {
	constraint, err := semver.NewConstraint(">= " + majorRange(major))
	if err != nil {
		return ""
	}

	var bestPath string
	var bestVersion *semver.Version
	seen := make(map[string]bool)

	for _, candidate := range p.javaCandidates() {
		real, err := filepath.EvalSymlinks(candidate)
		if err != nil {
			real = candidate
		}
		if seen[real] {
			continue
		}
		seen[real] = true

		version := probeJavaVersion(ctx, real)
		if version == nil || !constraint.Check(version) {
			continue
		}
		p.log.Debug().Str("java", real).Str("version", version.String()).Msg("system runtime candidate")
		if bestVersion == nil || version.Major() < bestVersion.Major() {
			bestPath, bestVersion = real, version
		}
	}
	return bestPath
}

// javaCandidates lists every java binary worth probing, in preference
// order.
func (p *Provider) javaCandidates() []string {
	binName := "java"
	if runtime.GOOS == "windows" {
		binName = "java.exe"
	}

	var candidates []string
	if home := os.Getenv("JAVA_HOME"); home != "" {
		candidates = append(candidates,
			filepath.Join(home, "bin", binName),
			filepath.Join(home, "Contents", "Home", "bin", binName))
	}
	if fromPath, err := exec.LookPath(binName); err == nil {
		candidates = append(candidates, fromPath)
	}

	for _, root := range installRoots() {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			candidates = append(candidates,
				filepath.Join(root, entry.Name(), "bin", binName),
				filepath.Join(root, entry.Name(), "Contents", "Home", "bin", binName))
		}
	}

	var present []string
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			present = append(present, c)
		}
	}
	return present
}

// installRoots is where distributions conventionally land per platform.
func installRoots() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Library/Java/JavaVirtualMachines",
			filepath.Join(home, ".sdkman/candidates/java"),
		}
	case "linux":
		return []string{
			"/usr/lib/jvm",
			"/usr/lib64/jvm",
			filepath.Join(home, ".sdkman/candidates/java"),
		}
	case "windows":
		return []string{
			`C:\Program Files\Java`,
			`C:\Program Files\Eclipse Adoptium`,
			`C:\Program Files\Microsoft\jdk`,
		}
	default:
		return nil
	}
}

// probeJavaVersion runs `java -version` and parses the reported version.
func probeJavaVersion(ctx context.Context, javaPath string) *semver.Version {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, javaPath, "-version").CombinedOutput()
	if err != nil {
		return nil
	}
	return parseJavaVersion(string(output))
}

// parseJavaVersion extracts the quoted version from `java -version`
// output and normalizes it into a semver value. The pre-9 "1.8.0_391"
// scheme becomes 8.0.391 so major comparisons work uniformly.
func parseJavaVersion(output string) *semver.Version {
	start := strings.Index(output, `"`)
	if start < 0 {
		return nil
	}
	rest := output[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return nil
	}
	raw := rest[:end]

	if after, ok := strings.CutPrefix(raw, "1."); ok {
		raw = strings.Replace(after, "_", ".", 1)
	}
	// Trailing qualifiers like "21-ea" parse as prereleases already;
	// anything else unparseable is simply not a usable runtime.
	version, err := semver.NewVersion(raw)
	if err != nil {
		return nil
	}
	return version
}

// majorRange renders a major version as the constraint bound "N.0.0".
func majorRange(major int) string {
	v := semver.New(uint64(major), 0, 0, "", "")
	return v.String()
}
