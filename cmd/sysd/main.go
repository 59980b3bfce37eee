// Command sysd is a systemd-compatible minimal init system: as PID 1 it
// mounts the essential filesystems, reaps orphans and drives the unit
// catalog to the default target; as a user-mode instance (or under an
// existing init, for testing) it does the same minus the PID-1-only
// steps. cmd/ctr/app/main.go is this file's model: a urfave/cli/v2 App
// with a handful of global flags and one hidden subcommand
// (exec-init) that never shows up in --help because it's only ever
// invoked by sysd re-executing itself, the same way runc's "init"
// subcommand is.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/Osso/sysd/internal/config"
	"github.com/Osso/sysd/internal/daemon"
	"github.com/Osso/sysd/internal/logging"
	"github.com/Osso/sysd/internal/pid1"
	"github.com/Osso/sysd/internal/supervisor"
)

var version = "0.1.0"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sysd"
	app.Version = version
	app.Usage = "a minimal, systemd-compatible init system"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to the daemon TOML configuration",
			Value: "/etc/sysd/config.toml",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	app.Commands = []*cli.Command{
		execInitCommand,
		daemonCommand,
	}
	app.Action = func(cliCtx *cli.Context) error {
		return runDaemon(cliCtx)
	}
	return app
}

// execInitCommand is sysd re-executing itself between fork and execve
// to construct a unit's sandbox (internal/supervisor/exec.go's
// BuildCommand spawns exactly this). Hidden so it never appears in
// --help or shell completion; it is not a user-facing operation.
var execInitCommand = &cli.Command{
	Name:   supervisor.ExecInitSubcommand,
	Hidden: true,
	Action: func(cliCtx *cli.Context) error {
		return supervisor.RunExecInit()
	},
}

var daemonCommand = &cli.Command{
	Name:  "daemon",
	Usage: "run the unit manager in the foreground (same as the default action)",
	Action: func(cliCtx *cli.Context) error {
		return runDaemon(cliCtx)
	},
}

func runDaemon(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx.String("config"))
	if err != nil {
		return err
	}
	if cliCtx.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	if _, err := logging.Init(cfg.Log); err != nil {
		return err
	}

	isPID1 := os.Getpid() == 1
	if isPID1 {
		if err := pid1.MountEssential(); err != nil {
			log.L.WithError(err).Error("sysd: essential mounts failed")
		}
		if err := pid1.SetSubreaper(); err != nil {
			log.L.WithError(err).Warn("sysd: failed to become child subreaper")
		}
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("sysd: %w", err)
	}
	defer d.Close()

	log.L.WithField("pid1", isPID1).WithField("mode", cfg.Mode).Info("sysd: starting")

	if isPID1 {
		// As PID 1, SIGTERM/SIGINT/SIGHUP/SIGUSR1/SIGUSR2 are handled
		// by pid1.Run itself (Shutdown ends in unix.Reboot, which never
		// returns on success), not by a context cancellation: a plain
		// signal.NotifyContext here would race pid1.Run's own
		// handler for the same signals.
		ctx := context.Background()
		go pid1.Reap(ctx)
		go pid1.Run(ctx, d.SignalHandler())
		return d.Serve(ctx)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return d.Serve(ctx)
}
