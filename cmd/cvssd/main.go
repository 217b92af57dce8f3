// Cvssd is a CVSS v3.1 base score calculator with a web interface.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/quay/cvssd/toolkit/log"
)

// Version is set at link time, or taken from the build info.
var version string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func getVersion() string {
	if version != "" {
		return version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}

// App is the state shared by all the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *Config

	level    slog.LevelVar
	handler  slog.Handler
	logClose io.Closer
	// Telemetry, if set, is an additional log handler.
	telemetry slog.Handler
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}
	root := &cobra.Command{
		Use:          "cvssd",
		Short:        "CVSS v3.1 base score calculator",
		Version:      getVersion(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./cvssd.yaml or ~/.config/cvssd/cvssd.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, or error")
	pf.String("db-driver", "", `database driver: "sqlite" or "postgres"`)
	pf.String("db-dsn", "", "database file (sqlite) or connection string (postgres)")
	a.bind("log.level", pf, "log-level")
	a.bind("db.driver", pf, "db-driver")
	a.bind("db.dsn", pf, "db-dsn")

	root.AddCommand(
		newServeCmd(a),
		newScoreCmd(),
		newMigrateCmd(a),
		newUserCmd(a),
		newExtractCmd(a),
	)
	return root
}

// Bind ties a config key to a flag. All flags are defined in this package, so
// a failure is a programmer error.
func (a *app) bind(key string, fs *pflag.FlagSet, name string) {
	if err := a.v.BindPFlag(key, fs.Lookup(name)); err != nil {
		panic(fmt.Sprintf("programmer error: bind %q: %v", key, err))
	}
}

// Setup reads the configuration and installs the default logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := readConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	h, c, err := log.New(cmd.ErrOrStderr(), log.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		File:     cfg.Log.File,
		LevelVar: &a.level,
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.handler, a.logClose = h, c
	a.installLogger()
	return nil
}

func (a *app) installLogger() {
	h := a.handler
	if a.telemetry != nil {
		h = log.Tee(h, log.WrapHandler(a.telemetry))
	}
	slog.SetDefault(slog.New(h))
}

func (a *app) teardown() error {
	if a.logClose == nil {
		return nil
	}
	err := a.logClose.Close()
	a.logClose = nil
	return err
}

// WatchConfig follows changes to the config file, if any. Only the log level
// is applied to a running process.
func (a *app) watchConfig(ctx context.Context) {
	if a.v.ConfigFileUsed() == "" {
		return
	}
	a.v.OnConfigChange(func(ev fsnotify.Event) {
		ctx := log.With(ctx, "file", ev.Name)
		l, err := log.ParseLevel(a.v.GetString("log.level"))
		if err != nil {
			slog.WarnContext(ctx, "ignoring bad log level", "error", err)
			return
		}
		if l != a.level.Level() {
			a.level.Set(l)
			slog.InfoContext(ctx, "log level changed", "level", l)
		}
	})
	a.v.WatchConfig()
}

// CloseLogged closes "c", logging any error.
func closeLogged(ctx context.Context, what string, c io.Closer) {
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "error closing", "what", what, "error", err)
	}
}
