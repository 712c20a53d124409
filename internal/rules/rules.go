// Package rules evaluates the platform rules attached to libraries and
// argument tokens in version manifests.
package rules

import (
	"regexp"
	"runtime"

	"github.com/plainprince/mc-launcher/internal/manifest"
)

// OS is the platform triple rules are evaluated against.
type OS struct {
	Family  string // windows, osx, linux
	Arch    string // x86, x86_64, arm64
	Version string
}

// Current returns the running platform in Mojang naming.
func Current() OS {
	family := runtime.GOOS
	switch family {
	case "darwin":
		family = "osx"
	case "windows", "linux":
	default:
		// Mojang rules only know the big three; anything else is
		// matched literally.
	}

	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "386":
		arch = "x86"
	}

	return OS{Family: family, Arch: arch}
}

// Bits is the pointer width used for the ${arch} native-classifier
// substitution.
func (o OS) Bits() string {
	if o.Arch == "x86" {
		return "32"
	}
	return "64"
}

// Allowed reports whether an entry guarded by rs applies on os with the
// given feature flags. With no rules everything is allowed; otherwise
// rules are scanned in order and the last matching rule's action wins.
// A rule whose features clause is not satisfied is skipped.
func Allowed(rs []manifest.Rule, os OS, features map[string]bool) bool {
	if len(rs) == 0 {
		return true
	}

	allowed := false
	for _, rule := range rs {
		if !featuresSatisfied(rule.Features, features) {
			continue
		}
		if !osMatches(rule.OS, os) {
			continue
		}
		allowed = rule.Action == "allow"
	}
	return allowed
}

func featuresSatisfied(want map[string]bool, have map[string]bool) bool {
	for name, expected := range want {
		if have[name] != expected {
			return false
		}
	}
	return true
}

// osMatches reports whether the rule's OS clause matches. A nil clause
// matches every platform.
func osMatches(clause *manifest.OSRule, os OS) bool {
	if clause == nil {
		return true
	}
	if clause.Name != "" && clause.Name != os.Family {
		return false
	}
	if clause.Arch != "" && clause.Arch != os.Arch {
		return false
	}
	if clause.Version != "" {
		re, err := regexp.Compile(clause.Version)
		if err != nil || !re.MatchString(os.Version) {
			return false
		}
	}
	return true
}
