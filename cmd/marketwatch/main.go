// Command marketwatch runs the market-data quality monitor and ingestion
// supervisor described in SPEC_FULL.md: a streaming ingestion pipeline
// feeding components A-L, an HTTP ops surface for dashboards and reports,
// and a standalone backfill runner for historical gap fills.
//
// Grounded on cmd/cryptorun/main.go's cobra root command: persistent
// flags for config path and log level, a bootstrap-then-dispatch Execute,
// and Error().Err(err).Msg + os.Exit(1) (fatal) for setup failures inside
// each subcommand. An error a subcommand returns is printed by cobra and
// again by main before the process exits with status 1.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketwatch/internal/config"
	applog "github.com/sawpanic/marketwatch/internal/log"
)

const appName = "marketwatch"

var (
	cfgPath  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Market-data quality monitor and ingestion supervisor",
		Long: `marketwatch ingests a real-time market-data stream, watches it for
gaps, sequence breaks, incompleteness, anomalies, latency regressions, and
SLA violations, and backfills historical data on request.

Run 'marketwatch serve' to start live ingestion with its ops HTTP server,
'marketwatch watch' to follow per-symbol health from a running serve
process, 'marketwatch report' to pull a daily or weekly rollup, and
'marketwatch backfill' to run a one-shot historical fill.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults built in if omitted)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newReportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig bootstraps the logger for the level flag and loads the
// config file, falling back to config.Default() when cfgPath is unset.
func loadConfig() (config.Config, zerolog.Logger, error) {
	log := applog.Bootstrap(applog.ParseLevel(logLevel))

	if cfgPath == "" {
		return config.Default(), log, nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, log, err
	}
	return cfg, log, nil
}

func fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
