package mclauncher

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/internal/launch"
	"github.com/plainprince/mc-launcher/internal/loader"
)

// Credential is the identity record produced by an external
// authenticator and consumed by the argument builder.
type Credential = launch.Credential

// CredentialMeta carries the account flavor and auxiliary identifiers.
type CredentialMeta = launch.CredentialMeta

// LoaderType names a supported mod-loader flavor.
type LoaderType = loader.Type

// Loader flavors accepted in LaunchOptions.
const (
	LoaderFabric       = loader.Fabric
	LoaderLegacyFabric = loader.LegacyFabric
	LoaderQuilt        = loader.Quilt
	LoaderForge        = loader.Forge
	LoaderNeoForge     = loader.NeoForge
)

// LoaderSpec selects a loader flavor and build for a launch.
type LoaderSpec struct {
	Type  LoaderType
	Build string // literal build, "latest", or "recommended"
}

// Config establishes a launcher session.
type Config struct {
	RootDir   string
	MinMemory string // e.g. "512M"
	MaxMemory string // e.g. "2G"

	JavaPath         string // overrides runtime selection unconditionally
	DownloadPoolSize int
	RequestTimeout   time.Duration
	DownloadTimeout  time.Duration
	Mirrors          []string // ordered Maven mirror bases

	LauncherName    string
	LauncherVersion string

	// VerifyAfter re-hashes every planned artifact once downloads
	// complete and fails the launch on any mismatch.
	VerifyAfter bool

	// StrictProcessors makes the first failing installer processor
	// fatal instead of tolerating it while later ones succeed.
	StrictProcessors bool

	Logger *zerolog.Logger
}

// withDefaults fills the zero values the way the session expects them.
func (c Config) withDefaults() Config {
	if c.MinMemory == "" {
		c.MinMemory = "512M"
	}
	if c.MaxMemory == "" {
		c.MaxMemory = "2G"
	}
	if c.DownloadPoolSize <= 0 {
		c.DownloadPoolSize = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 5 * time.Minute
	}
	if c.LauncherName == "" {
		c.LauncherName = "mc-launcher"
	}
	if c.LauncherVersion == "" {
		c.LauncherVersion = "1.0.0"
	}
	return c
}

// LaunchOptions describes one launch request.
type LaunchOptions struct {
	Version  string // version id, "latest_release", or "latest_snapshot"
	Instance string // instance name under <root>/instances
	Loader   *LoaderSpec

	Credential *Credential // nil launches with an offline identity

	ExtraJVM  []string
	ExtraGame []string
	Env       []string
	Features  map[string]bool

	ResolutionWidth  int
	ResolutionHeight int

	ModURLs      []string
	LocalModDirs []string

	Detached bool
	Quiet    bool // suppress the redacted command-line log
}
