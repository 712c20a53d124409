// Command mc-launcher drives the launcher core from the command line:
// it resolves a version, installs an optional loader, and runs the game
// while printing bus events to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	mclauncher "github.com/plainprince/mc-launcher"
	"github.com/plainprince/mc-launcher/events"
)

func main() {
	var (
		root       = flag.String("root", defaultRoot(), "launcher root directory")
		version    = flag.String("version", "latest_release", "game version, latest_release, or latest_snapshot")
		instance   = flag.String("instance", "default", "instance name")
		loaderType = flag.String("loader", "", "loader flavor: fabric, legacyfabric, quilt, forge, neoforge")
		loaderVer  = flag.String("loader-build", "latest", "loader build, latest, or recommended")
		javaPath   = flag.String("java", "", "java executable override")
		minMem     = flag.String("xms", "512M", "minimum heap")
		maxMem     = flag.String("xmx", "2G", "maximum heap")
		username   = flag.String("username", "Player", "offline player name")
		pool       = flag.Int("pool", 8, "download pool size")
		verbose    = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	launcher := mclauncher.Configure(mclauncher.Config{
		RootDir:          *root,
		MinMemory:        *minMem,
		MaxMemory:        *maxMem,
		JavaPath:         *javaPath,
		DownloadPoolSize: *pool,
		Logger:           &log,
	})

	launcher.On(events.KindProgress, func(ev events.Event) {
		p := ev.(events.Progress)
		if p.Total > 0 {
			fmt.Fprintf(os.Stderr, "\r%3d%% %s", p.Done*100/p.Total, p.Element)
		}
	})
	launcher.On(events.KindData, func(ev events.Event) {
		fmt.Println(ev.(events.Data).Chunk)
	})
	launcher.On(events.KindClose, func(ev events.Event) {
		fmt.Fprintf(os.Stderr, "game closed: %s\n", ev.(events.Close).Reason)
	})

	opts := mclauncher.LaunchOptions{
		Version:  *version,
		Instance: *instance,
	}
	if *loaderType != "" {
		opts.Loader = &mclauncher.LoaderSpec{
			Type:  mclauncher.LoaderType(strings.ToLower(*loaderType)),
			Build: *loaderVer,
		}
	}
	if *username != "" {
		cred := offlineCredential(*username)
		opts.Credential = &cred
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pid, err := launcher.Launch(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("launch failed")
	}
	log.Info().Int("pid", pid).Msg("game running")

	launcher.Wait()
}

func offlineCredential(name string) mclauncher.Credential {
	return mclauncher.Credential{
		Name:        name,
		UUID:        "00000000-0000-0000-0000-000000000000",
		AccessToken: "0",
		Meta:        mclauncher.CredentialMeta{Type: "legacy"},
	}
}

func defaultRoot() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mc-launcher")
	}
	home, _ := os.UserHomeDir()
	switch {
	case os.Getenv("APPDATA") != "": // Windows
		return filepath.Join(os.Getenv("APPDATA"), "mc-launcher")
	default:
		return filepath.Join(home, ".local", "share", "mc-launcher")
	}
}
