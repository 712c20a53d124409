// Package mclauncher is a headless Minecraft launcher core: it resolves
// a requested game version (optionally with a mod loader), assembles
// every artifact needed to run it, and spawns and supervises the client
// process. All progress surfaces on a typed event bus.
package mclauncher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/plainprince/mc-launcher/errs"
	"github.com/plainprince/mc-launcher/events"
	"github.com/plainprince/mc-launcher/internal/download"
	"github.com/plainprince/mc-launcher/internal/javaruntime"
	"github.com/plainprince/mc-launcher/internal/launch"
	"github.com/plainprince/mc-launcher/internal/loader"
	"github.com/plainprince/mc-launcher/internal/manifest"
	"github.com/plainprince/mc-launcher/internal/maven"
	"github.com/plainprince/mc-launcher/internal/mods"
	"github.com/plainprince/mc-launcher/internal/plan"
	"github.com/plainprince/mc-launcher/internal/rules"
)

// Launcher is a configured session. It owns the event bus, the shared
// download pool, and at most one live game process.
type Launcher struct {
	cfg Config
	bus *events.Bus
	log zerolog.Logger

	mgr        *download.Manager
	resolver   *manifest.Resolver
	javaProv   *javaruntime.Provider
	supervisor *launch.Supervisor

	instanceDir string // set per launch for log inspection
}

// busHook mirrors log records onto the event bus.
type busHook struct{ bus *events.Bus }

func (h busHook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if level >= zerolog.InfoLevel && message != "" {
		h.bus.Emit(events.Log{Level: level.String(), Message: message})
	}
}

// Configure establishes a session rooted at cfg.RootDir.
func Configure(cfg Config) *Launcher {
	cfg = cfg.withDefaults()
	bus := events.NewBus()

	var log zerolog.Logger
	if cfg.Logger != nil {
		log = *cfg.Logger
	} else {
		log = zerolog.Nop()
	}
	log = log.Hook(busHook{bus: bus})

	mgr := download.NewManager(cfg.DownloadPoolSize, bus,
		download.WithTimeouts(cfg.RequestTimeout, cfg.DownloadTimeout),
		download.WithLogger(log),
	)

	return &Launcher{
		cfg:        cfg,
		bus:        bus,
		log:        log,
		mgr:        mgr,
		resolver:   manifest.NewResolver(cfg.RootDir, bus, log),
		javaProv:   javaruntime.NewProvider(cfg.RootDir, mgr, bus, log),
		supervisor: launch.NewSupervisor(bus, log),
	}
}

// Events exposes the session's event bus for subscription.
func (l *Launcher) Events() *events.Bus { return l.bus }

// On is a shorthand for Events().On.
func (l *Launcher) On(kind events.Kind, handler func(events.Event)) {
	l.bus.On(kind, handler)
}

// Launch runs the full pipeline and spawns the game. It returns the
// child's pid; the close event reports its eventual exit.
func (l *Launcher) Launch(ctx context.Context, opts LaunchOptions) (int, error) {
	pid, err := l.launch(ctx, opts)
	if err != nil {
		kind := errs.KindOf(err)
		if ctx.Err() != nil && kind != errs.Aborted {
			err = errs.Wrap(errs.Aborted, err)
			kind = errs.Aborted
		}
		l.bus.Emit(events.Error{ErrKind: string(kind), Detail: err.Error()})
	}
	return pid, err
}

func (l *Launcher) launch(ctx context.Context, opts LaunchOptions) (int, error) {
	if l.supervisor.IsRunning() {
		return 0, errs.New(errs.AlreadyRunning, "a game process is already live")
	}
	if opts.Instance == "" {
		opts.Instance = "default"
	}

	instanceDir := filepath.Join(l.cfg.RootDir, "instances", opts.Instance)
	if err := os.MkdirAll(instanceDir, 0o755); err != nil {
		return 0, errs.Wrap(errs.LaunchFailed, err)
	}
	l.instanceDir = instanceDir

	// 1. Manifest resolution; parents are fully merged before planning.
	base, err := l.resolver.Resolve(ctx, opts.Version)
	if err != nil {
		return 0, err
	}
	baseGameVersion := base.ID
	l.log.Info().Str("version", base.ID).Msg("resolved version manifest")

	clientJar, err := l.resolver.DownloadClientJar(ctx, base, l.mgr)
	if err != nil {
		return 0, err
	}

	// 2. Java runtime, needed by the patcher before the loader runs.
	javaExe, err := l.javaProv.Executable(ctx, base.JavaVersion.Component, base.JavaVersion.MajorVersion, l.cfg.JavaPath)
	if err != nil {
		return 0, err
	}

	// 3. Loader overlay.
	effective := base
	versionID := base.ID
	if opts.Loader != nil {
		profile, err := loader.Resolve(ctx, loader.Deps{
			Root:           l.cfg.RootDir,
			Mgr:            l.mgr,
			Bus:            l.bus,
			Log:            l.log,
			Mirrors:        l.cfg.Mirrors,
			JavaExecutable: javaExe,
			StrictPatch:    l.cfg.StrictProcessors,
		}, loader.Spec{Type: opts.Loader.Type, Build: opts.Loader.Build}, base)
		if err != nil {
			return 0, err
		}
		effective = manifest.Merge(base, profile.Overlay)
		versionID = profile.VersionID
		l.log.Info().Str("loader", string(opts.Loader.Type)).Str("version", versionID).Msg("loader installed")
	}

	// 4. Planning; the plan is immutable once submitted.
	osInfo := rules.Current()
	planner := plan.NewPlanner(l.cfg.RootDir, osInfo, l.mgr, l.bus, l.log)
	planner.Features = opts.Features
	planner.Mirrors = l.cfg.Mirrors

	libPlan, err := planner.Libraries(ctx, effective)
	if err != nil {
		return 0, err
	}
	assetPlan, assetIndex, err := planner.Assets(ctx, effective)
	if err != nil {
		return 0, err
	}

	// 5. Downloads complete before native extraction.
	tasks := append(libPlan.Tasks, assetPlan.Tasks...)
	result, err := l.mgr.DownloadMany(ctx, tasks, libPlan.TotalBytes+assetPlan.TotalBytes, 0)
	if err != nil {
		return 0, err
	}
	if result.Failed > 0 {
		return 0, errs.New(errs.Network, "%d artifacts failed to download", result.Failed)
	}

	if l.cfg.VerifyAfter {
		if err := l.verify(tasks); err != nil {
			return 0, err
		}
	}

	if err := planner.ExtractNatives(libPlan.Natives, versionID); err != nil {
		return 0, err
	}

	if assetIndex != nil && plan.IsLegacyAssets(effective.AssetIndex.ID, assetIndex) {
		if err := planner.CopyLegacyAssets(assetIndex, instanceDir); err != nil {
			return 0, err
		}
	}

	// 6. Mod staging; failures are logged, never fatal.
	if len(opts.ModURLs) > 0 || len(opts.LocalModDirs) > 0 {
		stager := &mods.Stager{Mgr: l.mgr, Log: l.log}
		stager.Stage(ctx, instanceDir, opts.ModURLs, opts.LocalModDirs)
	}

	l.writeInstanceDescriptor(instanceDir, opts, versionID)

	// 7. Argument construction.
	cred := launch.OfflineCredential("")
	if opts.Credential != nil {
		cred = *opts.Credential
	}

	// The loader's version directory carries its own copy of the
	// client jar when an overlay is active.
	if versionID != base.ID {
		overlayJar := filepath.Join(l.cfg.RootDir, "versions", versionID, versionID+".jar")
		if _, err := os.Stat(overlayJar); err == nil {
			clientJar = overlayJar
		}
	}

	args := launch.Build(launch.ArgsInput{
		Root:            l.cfg.RootDir,
		Details:         effective,
		VersionID:       versionID,
		BaseGameVersion: baseGameVersion,
		Classpath:       libPlan.Classpath,
		ClientJar:       clientJar,
		GameDir:         instanceDir,
		Credential:      cred,
		OS:              osInfo,
		Features:        opts.Features,
		MinMemory:       l.cfg.MinMemory,
		MaxMemory:       l.cfg.MaxMemory,
		ExtraJVM:        opts.ExtraJVM,
		ExtraGame:       opts.ExtraGame,
		LauncherName:    l.cfg.LauncherName,
		LauncherVersion: l.cfg.LauncherVersion,
		ResolutionW:     opts.ResolutionWidth,
		ResolutionH:     opts.ResolutionHeight,
		Log:             l.log,
	})

	if !opts.Quiet {
		l.log.Info().Str("command", launch.Redact(args, cred, l.cfg.RootDir)).Msg("assembled launch command")
	}

	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.Aborted, err)
	}

	// 8. Spawn, only after arguments are fully constructed.
	return l.supervisor.Launch(ctx, launch.LaunchSpec{
		JavaPath: javaExe,
		Args:     args,
		Dir:      instanceDir,
		Env:      opts.Env,
		Detached: opts.Detached,
	})
}

// verify re-hashes every task that declared a hash.
func (l *Launcher) verify(tasks []download.Task) error {
	total := 0
	for _, t := range tasks {
		if t.SHA1 != "" {
			total++
		}
	}
	i := 0
	for _, t := range tasks {
		if t.SHA1 == "" {
			continue
		}
		i++
		l.bus.Emit(events.Check{Index: i, Total: total, What: "verify"})
		got, err := maven.Sha1File(t.Path())
		if err != nil {
			return errs.Wrapf(errs.HashMismatch, err, "verify %s", t.Name)
		}
		if !strings.EqualFold(got, t.SHA1) {
			return errs.New(errs.HashMismatch, "%s hashed %s, expected %s", t.Name, got, t.SHA1)
		}
	}
	return nil
}

// writeInstanceDescriptor records the launch in instance.json so the
// instance survives as a self-describing workspace.
func (l *Launcher) writeInstanceDescriptor(instanceDir string, opts LaunchOptions, versionID string) {
	desc := struct {
		Name       string    `json:"name"`
		Version    string    `json:"version"`
		Loader     string    `json:"loader,omitempty"`
		LoaderVer  string    `json:"loaderVer,omitempty"`
		LastPlayed time.Time `json:"lastPlayed"`
	}{
		Name:       opts.Instance,
		Version:    versionID,
		LastPlayed: time.Now(),
	}
	if opts.Loader != nil {
		desc.Loader = string(opts.Loader.Type)
		desc.LoaderVer = opts.Loader.Build
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(instanceDir, "instance.json"), data, 0o644); err != nil {
		l.log.Warn().Err(err).Msg("could not write instance descriptor")
	}
}

// Kill terminates the live game process, escalating after the grace
// window. It reports whether a process was signalled.
func (l *Launcher) Kill(grace time.Duration) bool {
	return l.supervisor.Kill(grace)
}

// PID returns the live process id, or 0 when no process is live.
func (l *Launcher) PID() int { return l.supervisor.PID() }

// IsRunning reports whether a game process is live.
func (l *Launcher) IsRunning() bool { return l.supervisor.IsRunning() }

// Wait blocks until the current game process exits.
func (l *Launcher) Wait() { l.supervisor.Wait() }

// InspectLogs returns the current latest.log contents for the most
// recently launched instance, or a stable sentinel when absent.
func (l *Launcher) InspectLogs() string {
	if l.instanceDir == "" {
		return launch.NoLogsSentinel
	}
	return launch.InspectLogs(l.instanceDir)
}
