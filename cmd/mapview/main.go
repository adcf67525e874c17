package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/mapview/internal/config"
	"github.com/OCAP2/mapview/internal/logging"
	intOtel "github.com/OCAP2/mapview/internal/otel"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "mapview"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// EventLogger traces dispatched page events
	EventLogger *logging.DispatcherLogger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	LogFile       *os.File
	graylogCloser io.Closer

	SessionStartTime time.Time = time.Now()
)

const usage = `usage: mapview <command>

commands:
  serve          start the browser bridge
  replay <file> [out.geojson]
                 run recorded page events against a headless map
  version        print the version`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Println(usage)
		os.Exit(2)
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "serve":
		setup(false)
		err = runServe()
	case "replay":
		if len(args) < 2 {
			fmt.Println("No replay file provided.")
			os.Exit(2)
		}
		setup(true)
		var geojsonPath string
		if len(args) > 2 {
			geojsonPath = args[2]
		}
		err = runReplayFile(args[1], geojsonPath, os.Stdout)
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
		return
	default:
		fmt.Println(usage)
		os.Exit(2)
	}

	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configDir returns MAPVIEW_CONFIG_DIR or the working directory.
func configDir() string {
	if dir := os.Getenv("MAPVIEW_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "."
}

// setup loads config and wires logging. Console mode keeps logs on stderr
// for interactive commands; otherwise they go to the session log file.
func setup(console bool) {
	SlogManager = logging.NewSlogManager()
	configErr := config.Load(configDir())

	level := viper.GetString("logLevel")

	var out io.Writer = os.Stderr
	if !console {
		f, err := logging.OpenLogFile(viper.GetString("logsDir"), AppName, SessionStartTime)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, logging to stderr: %v\n", err)
		} else {
			LogFile = f
			out = f
		}
	}

	var otelWriter io.Writer
	if LogFile != nil {
		otelWriter = LogFile
	}
	otelCfg := config.GetOTelConfig()
	provider, err := intOtel.New(context.Background(), intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelWriter,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up OTel, continuing without it: %v\n", err)
		provider, _ = intOtel.New(context.Background(), intOtel.Config{})
	}
	OTelProvider = provider

	var extra []slog.Handler
	if g := config.GetGraylogConfig(); g.Enabled {
		h, closer, err := logging.NewGelfHandler(g.Address, AppName, level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to Graylog: %v\n", err)
		} else {
			extra = append(extra, h)
			graylogCloser = closer
		}
	}

	SlogManager.Setup(out, level, OTelProvider.LoggerProvider(), extra...)
	Logger = SlogManager.Logger()

	if console {
		EventLogger = logging.NewConsoleDispatcherLogger(os.Stderr, level)
	} else {
		EventLogger = logging.NewJSONDispatcherLogger(out, level)
	}

	if configErr != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		Logger.Info("Loaded config", "dir", configDir())
	}
	Logger.Info("Starting up", "version", Version, "build", BuildDate)
}

func teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", err)
	}
	if err := OTelProvider.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to shut down OTel: %v\n", err)
	}
	if graylogCloser != nil {
		_ = graylogCloser.Close()
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}
