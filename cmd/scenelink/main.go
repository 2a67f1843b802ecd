package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/scenelink/scenelink/internal/config"
	"github.com/scenelink/scenelink/internal/logging"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "scenelink"
)

var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// DBLogger is handed to the GORM connection helpers
	DBLogger zerolog.Logger

	// OsFs is the filesystem every path on the command line resolves against
	OsFs afero.Fs = afero.NewOsFs()

	SessionStartTime time.Time = time.Now()
)

const usage = `usage: scenelink [flags] <command> [args]

commands:
  serve                 run the HTTP API
  list                  print the stored scenes
  save [scene flags]    create or update a scene
  delete <id>           remove a scene
  import <file>         replace the collection with a snapshot file
  bind <file>           load a snapshot file and keep it as the save target
  export                write the collection to the export file
  link <id>             print the viewer link of a scene
  view <link>           drive a viewer from line commands on stdin

flags:
`

func globalFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.String("config", ".", "directory holding "+config.ConfigName)
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("storage", "sqlite", "cache backend: sqlite, postgres, redis or memory (not kept between runs)")
	flags.String("base-url", "", "viewer base URL used in shared links")
	flags.String("addr", "", "HTTP listen address for serve")
	flags.String("export-dir", "", "directory export writes to")
	flags.String("server", "", "talk to a running scenelink server instead of the local cache")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	return flags
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := globalFlags()
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	configDir, _ := flags.GetString("config")
	if err := config.Load(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := config.BindFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		return 1
	}

	closeLogs := setupLogging(flags.Arg(0) == "serve")
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, _ := flags.GetString("server")
	if err := dispatch(ctx, flags.Arg(0), flags.Args()[1:], server); err != nil {
		Logger.Error("Command failed", "command", flags.Arg(0), "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", flags.Arg(0), err)
		return 1
	}
	return 0
}

// setupLogging sends logs to the session log file, and to stderr as well
// when console is set. A log file that cannot be opened falls back to
// stdout.
func setupLogging(console bool) func() {
	level := viper.GetString("logLevel")
	SlogManager = logging.NewSlogManager()

	var sinks []slog.Handler
	if console {
		sinks = append(sinks, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if viper.GetBool("graylog.enabled") {
		h, err := SlogManager.AddGraylog(viper.GetString("graylog.address"), level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Graylog disabled: %v\n", err)
		} else {
			sinks = append(sinks, h)
		}
	}

	file, path, err := logging.OpenLogFile(OsFs, viper.GetString("logsDir"), AppName, SessionStartTime)
	var dbOut io.Writer = os.Stderr
	if err != nil {
		SlogManager.Setup(nil, level, sinks...)
	} else {
		SlogManager.Setup(file, level, sinks...)
		dbOut = file
	}
	Logger = SlogManager.Logger()
	if err != nil {
		Logger.Warn("Failed to open log file, logging to stdout", "error", err)
	} else {
		Logger.Debug("Log file opened", "path", path)
	}
	Logger.Info("Starting up", "version", CurrentVersion, "build", BuildDate)

	zlevel, perr := zerolog.ParseLevel(level)
	if perr != nil || zlevel == zerolog.NoLevel {
		zlevel = zerolog.InfoLevel
	}
	DBLogger = zerolog.New(dbOut).Level(zlevel).With().Timestamp().Str("component", "database").Logger()

	return func() {
		_ = SlogManager.Close()
		if file != nil {
			_ = file.Close()
		}
	}
}
