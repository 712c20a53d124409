package launch

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/plan"
	"github.com/plainprince/mc-launcher/internal/rules"
)

func baseInput(osInfo rules.OS, gameVersion string) ArgsInput {
	return ArgsInput{
		Root: "/data",
		Details: &manifest.VersionDetails{
			ID:        gameVersion,
			Type:      manifest.VersionTypeRelease,
			MainClass: "net.minecraft.client.main.Main",
			AssetIndex: manifest.AssetIndexRef{ID: "5"},
			Arguments: &manifest.Arguments{
				Game: []interface{}{"--username", "${auth_player_name}", "--accessToken", "${auth_access_token}"},
			},
		},
		VersionID:       gameVersion,
		BaseGameVersion: gameVersion,
		Classpath: []plan.ClasspathEntry{
			{Coord: "a:a:1", Path: "/data/libraries/a.jar"},
			{Coord: "b:b:1", Path: "/data/libraries/b.jar"},
		},
		ClientJar:       "/data/versions/x/x.jar",
		GameDir:         "/data/instances/default",
		Credential:      OfflineCredential("Steve"),
		OS:              osInfo,
		MinMemory:       "512M",
		MaxMemory:       "2G",
		LauncherName:    "mc-launcher",
		LauncherVersion: "1.0.0",
		Log:             zerolog.Nop(),
	}
}

func TestBuild_SubstitutesCredential(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.8.9")
	in.Credential = Credential{
		Name:        "Alex",
		UUID:        "11111111-2222-3333-4444-555555555555",
		AccessToken: "token-abc",
		Meta:        CredentialMeta{Type: "msa"},
	}

	args := Build(in)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--username Alex")
	assert.Contains(t, joined, "--accessToken token-abc")
	assert.NotContains(t, joined, "${auth_player_name}")
}

func TestBuild_IntelEmulationFlagOnOldDarwin(t *testing.T) {
	in := baseInput(rules.OS{Family: "osx", Arch: "arm64"}, "1.8.9")
	args := Build(in)
	assert.Contains(t, args, "-Dos.arch=x86_64")
	assert.Contains(t, args, "-XstartOnFirstThread")
}

func TestBuild_NoEmulationFlagOnModernDarwin(t *testing.T) {
	in := baseInput(rules.OS{Family: "osx", Arch: "arm64"}, "1.21.4")
	args := Build(in)
	assert.NotContains(t, args, "-Dos.arch=x86_64")
}

func TestBuild_NoEmulationFlagOffDarwin(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.8.9")
	args := Build(in)
	assert.NotContains(t, args, "-Dos.arch=x86_64")
	assert.NotContains(t, args, "-XstartOnFirstThread")
}

func TestBuild_ClasspathDedupedFirstOccurrence(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.8.9")
	in.Classpath = []plan.ClasspathEntry{
		{Coord: "dup:dup:1", Path: "/data/libraries/dup/first.jar"},
		{Coord: "dup:dup:1", Path: "/data/libraries/dup/second.jar"},
		{Coord: "other:other:1", Path: "/data/libraries/other.jar"},
	}

	args := Build(in)
	var classpath string
	for i, a := range args {
		if a == "-cp" {
			classpath = args[i+1]
			break
		}
	}
	require.NotEmpty(t, classpath)
	assert.Contains(t, classpath, "first.jar")
	assert.NotContains(t, classpath, "second.jar")
	assert.Equal(t, 1, strings.Count(classpath, "dup"))
	assert.True(t, strings.HasSuffix(classpath, in.ClientJar), "client jar comes last")
}

func TestBuild_MainClassPosition(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.8.9")
	args := Build(in)

	idx := -1
	for i, a := range args {
		if a == "net.minecraft.client.main.Main" {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "--username", args[idx+1], "game args follow the main class")
}

func TestBuild_LegacyArgumentTemplate(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.5.2")
	in.Details.Arguments = nil
	in.Details.MinecraftArguments = "--username ${auth_player_name} --session ${auth_session}"

	args := Build(in)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--username Steve")
	assert.Contains(t, joined, "--session 0")
}

func TestBuild_RuleGuardedTokens(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.21.4")
	in.Details.Arguments.JVM = []interface{}{
		map[string]interface{}{
			"rules": []interface{}{
				map[string]interface{}{"action": "allow", "os": map[string]interface{}{"name": "osx"}},
			},
			"value": "-XstartOnFirstThread",
		},
		"-Dsome.flag=1",
	}

	args := Build(in)
	assert.NotContains(t, args, "-XstartOnFirstThread")
	assert.Contains(t, args, "-Dsome.flag=1")
}

func TestBuild_ResolutionPlaceholders(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.21.4")
	in.Details.Arguments.Game = append(in.Details.Arguments.Game, "--width", "${resolution_width}")
	in.ResolutionW = 1280
	in.ResolutionH = 720

	args := Build(in)
	assert.Contains(t, args, "1280")
}

func TestBuild_UnknownPlaceholderKeptVerbatim(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.21.4")
	in.Details.Arguments.Game = append(in.Details.Arguments.Game, "${quickPlayPath}")

	args := Build(in)
	assert.Contains(t, args, "${quickPlayPath}")
}

func TestBuild_NativesDirectory(t *testing.T) {
	in := baseInput(rules.OS{Family: "linux", Arch: "x86_64"}, "1.8.9")
	args := Build(in)
	assert.Contains(t, args, "-Djava.library.path="+filepath.Join("/data", "natives", "1.8.9"))
}

func TestRedact(t *testing.T) {
	cred := Credential{
		Name:        "Alex",
		UUID:        "11111111-2222-3333-4444-555555555555",
		AccessToken: "secret-token",
		ClientToken: "client-secret",
	}
	args := []string{"--username", "Alex", "--accessToken", "secret-token", "--clientId", "client-secret", "--uuid", cred.UUID, "--gameDir", "/data/instances/x"}

	line := Redact(args, cred, "/data")
	assert.NotContains(t, line, "secret-token")
	assert.NotContains(t, line, "client-secret")
	assert.NotContains(t, line, cred.UUID)
	assert.NotContains(t, line, "Alex", "the display name is a credential field too")
	assert.Contains(t, line, "????????")
	assert.NotContains(t, line, "/data/instances")
}

func TestRedact_OfflineTokenNotMasked(t *testing.T) {
	cred := OfflineCredential("Steve")
	line := Redact([]string{"--accessToken", "0"}, cred, "")
	assert.Contains(t, line, "0")
}
