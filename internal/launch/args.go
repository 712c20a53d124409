// Package launch builds the game command line and supervises the
// spawned client process.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/plan"
	"github.com/plainprince/mc-launcher/internal/rules"
)

// Credential is the externally produced identity record injected into
// the command line. Tokens are redacted on every log surface.
type Credential struct {
	Name           string            `json:"name"`
	UUID           string            `json:"uuid"`
	AccessToken    string            `json:"access_token"`
	ClientToken    string            `json:"client_token"`
	UserProperties map[string]string `json:"user_properties"`
	Meta           CredentialMeta    `json:"meta"`
}

// CredentialMeta carries the account flavor and auxiliary identifiers.
type CredentialMeta struct {
	Type string `json:"type"`
	XUID string `json:"xuid,omitempty"`
}

// OfflineCredential synthesizes the placeholder identity used when no
// real credential is supplied.
func OfflineCredential(name string) Credential {
	if name == "" {
		name = "Player"
	}
	return Credential{
		Name:        name,
		UUID:        "00000000-0000-0000-0000-000000000000",
		AccessToken: "0",
		Meta:        CredentialMeta{Type: "legacy"},
	}
}

// redactedToken replaces credential values on log surfaces.
const redactedToken = "????????"

// versionsBeforeNativeARM matches game versions that predate native
// Apple-silicon LWJGL builds and need the Intel-emulation flag.
var versionsBeforeNativeARM = mustConstraint("<= 1.16.x")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ArgsInput collects everything the builder substitutes into the
// manifest's argument templates.
type ArgsInput struct {
	Root            string
	Details         *manifest.VersionDetails
	VersionID       string // effective id (loader overlay wins)
	BaseGameVersion string // plain game version for platform decisions
	Classpath       []plan.ClasspathEntry
	ClientJar       string
	GameDir         string
	Credential      Credential
	OS              rules.OS
	Features        map[string]bool
	MinMemory       string
	MaxMemory       string
	ExtraJVM        []string
	ExtraGame       []string
	LauncherName    string
	LauncherVersion string
	ResolutionW     int
	ResolutionH     int

	Log zerolog.Logger
}

// Build synthesizes the full argument vector (everything after the java
// executable): JVM flags, classpath, main class, and game arguments.
func Build(in ArgsInput) []string {
	subs := in.substitutions()

	var args []string
	hasClasspath := false
	hasNatives := false

	// Manifest JVM tokens come first, rule-filtered and substituted.
	if in.Details.Arguments != nil {
		for _, tok := range filterTokens(in.Details.Arguments.JVM, in.OS, in.Features) {
			expanded := in.substitute(tok, subs)
			if strings.HasPrefix(expanded, "-Djava.library.path=") {
				hasNatives = true
			}
			if tok == "${classpath}" || expanded == "-cp" || expanded == "-classpath" {
				hasClasspath = true
			}
			args = append(args, expanded)
		}
	}

	args = append(args, "-Xms"+in.MinMemory, "-Xmx"+in.MaxMemory)

	if in.OS.Family == "osx" {
		if in.Details.Arguments == nil || len(in.Details.Arguments.JVM) == 0 {
			// Old manifests carry no JVM tokens, so the LWJGL
			// first-thread flag has to come from us.
			args = append(args, "-XstartOnFirstThread")
		}
		if ver, err := semver.NewVersion(in.BaseGameVersion); err == nil && versionsBeforeNativeARM.Check(ver) {
			args = append(args, "-Dos.arch=x86_64")
		}
	}

	if !hasNatives {
		args = append(args, "-Djava.library.path="+in.nativesDir())
	}
	args = append(args,
		"-Dminecraft.launcher.brand="+in.LauncherName,
		"-Dminecraft.launcher.version="+in.LauncherVersion,
	)
	args = append(args, in.ExtraJVM...)

	if !hasClasspath {
		args = append(args, "-cp", in.classpathString())
	}

	args = append(args, in.Details.MainClass)

	// Game arguments: modern token list or the legacy template string.
	if in.Details.Arguments != nil && len(in.Details.Arguments.Game) > 0 {
		for _, tok := range filterTokens(in.Details.Arguments.Game, in.OS, in.Features) {
			args = append(args, in.substitute(tok, subs))
		}
	} else if in.Details.MinecraftArguments != "" {
		for _, tok := range strings.Fields(in.Details.MinecraftArguments) {
			args = append(args, in.substitute(tok, subs))
		}
	}
	args = append(args, in.ExtraGame...)

	return args
}

// classpathString joins the resolved libraries plus the client jar,
// deduplicated by coordinate preserving first occurrence.
func (in ArgsInput) classpathString() string {
	seen := make(map[string]bool, len(in.Classpath))
	var paths []string
	for _, entry := range in.Classpath {
		if seen[entry.Coord] {
			continue
		}
		seen[entry.Coord] = true
		paths = append(paths, entry.Path)
	}
	paths = append(paths, in.ClientJar)
	return strings.Join(paths, string(os.PathListSeparator))
}

func (in ArgsInput) nativesDir() string {
	return filepath.Join(in.Root, "natives", in.VersionID)
}

// substitutions is the closed placeholder table of the launch.
func (in ArgsInput) substitutions() map[string]string {
	userProps := "{}"
	if len(in.Credential.UserProperties) > 0 {
		var sb strings.Builder
		sb.WriteString("{")
		first := true
		for k, v := range in.Credential.UserProperties {
			if !first {
				sb.WriteString(",")
			}
			first = false
			fmt.Fprintf(&sb, "%q:%q", k, v)
		}
		sb.WriteString("}")
		userProps = sb.String()
	}

	userType := in.Credential.Meta.Type
	if userType == "" {
		userType = "msa"
	}

	subs := map[string]string{
		"${auth_player_name}":    in.Credential.Name,
		"${auth_uuid}":           in.Credential.UUID,
		"${auth_access_token}":   in.Credential.AccessToken,
		"${auth_session}":        in.Credential.AccessToken,
		"${auth_xuid}":           in.Credential.Meta.XUID,
		"${clientid}":            in.Credential.ClientToken,
		"${user_type}":           userType,
		"${user_properties}":     userProps,
		"${version_name}":        in.VersionID,
		"${version_type}":        string(in.Details.Type),
		"${game_directory}":      in.GameDir,
		"${assets_root}":         filepath.Join(in.Root, "assets"),
		"${game_assets}":         filepath.Join(in.GameDir, "resources"),
		"${assets_index_name}":   in.assetIndexID(),
		"${natives_directory}":   in.nativesDir(),
		"${launcher_name}":       in.LauncherName,
		"${launcher_version}":    in.LauncherVersion,
		"${classpath}":           in.classpathString(),
		"${library_directory}":   filepath.Join(in.Root, "libraries"),
		"${classpath_separator}": string(os.PathListSeparator),
	}
	if in.ResolutionW > 0 && in.ResolutionH > 0 {
		subs["${resolution_width}"] = fmt.Sprintf("%d", in.ResolutionW)
		subs["${resolution_height}"] = fmt.Sprintf("%d", in.ResolutionH)
	}
	return subs
}

func (in ArgsInput) assetIndexID() string {
	if in.Details.AssetIndex.ID != "" {
		return in.Details.AssetIndex.ID
	}
	return in.Details.Assets
}

// substitute expands known placeholders; unknown ones stay verbatim and
// are logged at debug.
func (in ArgsInput) substitute(token string, subs map[string]string) string {
	out := token
	for k, v := range subs {
		out = strings.ReplaceAll(out, k, v)
	}
	if i := strings.Index(out, "${"); i >= 0 {
		in.Log.Debug().Str("token", out[i:]).Msg("unknown placeholder left intact")
	}
	return out
}

// filterTokens flattens an argument list: strings pass through, rule
// objects contribute their value(s) when the rules allow.
func filterTokens(tokens []interface{}, os rules.OS, features map[string]bool) []string {
	var out []string
	for _, raw := range tokens {
		switch tok := raw.(type) {
		case string:
			out = append(out, tok)
		case map[string]interface{}:
			if !guardedAllowed(tok, os, features) {
				continue
			}
			switch v := tok["value"].(type) {
			case string:
				out = append(out, v)
			case []interface{}:
				for _, item := range v {
					if s, ok := item.(string); ok {
						out = append(out, s)
					}
				}
			}
		}
	}
	return out
}

// guardedAllowed re-decodes a token's inline rules through the shared
// rule evaluator.
func guardedAllowed(tok map[string]interface{}, os rules.OS, features map[string]bool) bool {
	rawRules, ok := tok["rules"].([]interface{})
	if !ok {
		return true
	}
	var rs []manifest.Rule
	for _, rr := range rawRules {
		rm, ok := rr.(map[string]interface{})
		if !ok {
			continue
		}
		var rule manifest.Rule
		rule.Action, _ = rm["action"].(string)
		if osm, ok := rm["os"].(map[string]interface{}); ok {
			rule.OS = &manifest.OSRule{}
			rule.OS.Name, _ = osm["name"].(string)
			rule.OS.Arch, _ = osm["arch"].(string)
			rule.OS.Version, _ = osm["version"].(string)
		}
		if fm, ok := rm["features"].(map[string]interface{}); ok {
			rule.Features = make(map[string]bool, len(fm))
			for k, v := range fm {
				b, _ := v.(bool)
				rule.Features[k] = b
			}
		}
		rs = append(rs, rule)
	}
	return rules.Allowed(rs, os, features)
}

// Redact renders an argument vector for logging with every credential
// field masked (name and uuid included, not just the tokens) and the
// root prefix stripped. The synthesized offline values ("0", the nil
// UUID) are left readable since they identify nobody.
func Redact(args []string, cred Credential, root string) string {
	line := strings.Join(args, " ")
	for _, secret := range []string{cred.AccessToken, cred.ClientToken, cred.UUID, cred.Name, cred.Meta.XUID} {
		if secret == "" || secret == "0" || secret == "00000000-0000-0000-0000-000000000000" {
			continue
		}
		line = strings.ReplaceAll(line, secret, redactedToken)
	}
	if root != "" {
		line = strings.ReplaceAll(line, root, "")
	}
	return line
}
