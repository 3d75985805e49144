package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tesseradata/tessera/pkg/config"
	"github.com/tesseradata/tessera/pkg/logger"
	"github.com/tesseradata/tessera/pkg/observability"
	"github.com/tesseradata/tessera/pkg/scan"
)

var version = "0.1.0"

// app carries the persistent flags shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
}

// setup loads the configuration and initializes logging and tracing. The
// returned function flushes tracing state and must be called before exit.
func (a *app) setup() (*config.Config, func(), error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}); err != nil {
		return nil, nil, err
	}

	done := func() { _ = logger.Sync() }
	if cfg.Tracing.Enabled {
		if err := observability.Init(observability.Config{
			ServiceName:    "tessera",
			ServiceVersion: version,
			SamplingRate:   cfg.Tracing.SampleRate,
			Pretty:         cfg.Tracing.Pretty,
		}); err != nil {
			return nil, nil, err
		}
		done = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(ctx)
			_ = logger.Sync()
		}
	}
	return cfg, done, nil
}

// scanOptions maps the filter toggles onto cursor options.
func scanOptions(cfg *config.Config) scan.Options {
	return scan.Options{
		DisablePushdown: !cfg.Filter.Pushdown,
		DisableBBox:     !cfg.Filter.UseBBox,
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tessera",
		Short: "Tessera - columnar geospatial feature codec",
		Long: `Tessera reads columnar geospatial datasets (Arrow IPC files and streams,
local or on s3/gs object storage), derives their feature schema, scans them
with attribute and spatial filters, and converts them to Avro, GeoJSON, or
filtered columnar payloads.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"path to tessera.yaml (default: working directory, then ~/.tessera)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Tessera v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newInfoCmd(a))
	root.AddCommand(newScanCmd(a))
	root.AddCommand(newConvertCmd(a))
	root.AddCommand(newConfigCmd(a))
	return root
}

func main() {
	// Pick up TESSERA_* settings from a .env file if one exists.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
