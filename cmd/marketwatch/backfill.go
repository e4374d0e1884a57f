package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketwatch/internal/backfill"
	"github.com/sawpanic/marketwatch/internal/backfillprovider"
	"github.com/sawpanic/marketwatch/internal/domain"
	applog "github.com/sawpanic/marketwatch/internal/log"
	"github.com/sawpanic/marketwatch/internal/ratelimit"
	"github.com/sawpanic/marketwatch/internal/storage/postgres"
)

var (
	backfillSymbols     string
	backfillFrom        string
	backfillTo          string
	backfillGranularity string
	backfillProvider    string
	backfillDSN         string
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run a one-shot historical backfill for one or more symbols",
		Long: `backfill enqueues a BackfillRequest per symbol against the historical
provider, rate-limited and retried the same way component M gates a live
ingestion gap fill, and writes the retrieved bars to Postgres.

It is a standalone job: it owns its own queue, worker, rate limiter, and
storage sink rather than talking to a running 'serve' process, since a
backfill run is often kicked off independently of live ingestion.`,
		RunE: runBackfill,
	}
	cmd.Flags().StringVar(&backfillSymbols, "symbols", "", "comma-separated symbols to backfill (required)")
	cmd.Flags().StringVar(&backfillFrom, "from", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&backfillTo, "to", "", "end date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&backfillGranularity, "granularity", "daily", "bar granularity: daily|minute")
	cmd.Flags().StringVar(&backfillProvider, "provider", "polygon", "provider name, must match a rate_limits config entry")
	cmd.Flags().StringVar(&backfillDSN, "dsn", "", "Postgres DSN to write bars to (required)")
	cmd.MarkFlagRequired("symbols")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("dsn")
	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		fatal(log, err, "failed to load config")
	}

	from, err := time.Parse("2006-01-02", backfillFrom)
	if err != nil {
		fatal(log, err, "invalid --from date")
	}
	to, err := time.Parse("2006-01-02", backfillTo)
	if err != nil {
		fatal(log, err, "invalid --to date")
	}
	granularity := domain.GranularityDaily
	if backfillGranularity == "minute" {
		granularity = domain.GranularityMinute
	}

	symbols := strings.Split(backfillSymbols, ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, postgres.ConnectConfig{DSN: backfillDSN, MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour})
	if err != nil {
		fatal(log, err, "failed to connect to postgres")
	}
	defer db.Close()
	sink := postgres.NewBarSink(db, 10*time.Second)

	upstream := backfillprovider.New(cfg.HistoricalProvider)
	provider := backfillprovider.NewCachedProvider(cfg.Cache, upstream, log)

	limiters := ratelimit.NewManager(rateLimitConfigs(cfg.RateLimits), ratelimit.Config{MaxPerWindow: 60, WindowSize: time.Minute})

	queue := backfill.NewQueue(len(symbols) * 2)
	worker := backfill.New(cfg.Backfill, queue, limiters, provider, sink, log)

	for _, symbol := range symbols {
		req := &domain.BackfillRequest{
			ID:               uuid.NewString(),
			Symbol:           domain.Symbol(symbol),
			FromDate:         from,
			ToDate:           to,
			Granularity:      granularity,
			AssignedProvider: domain.Provider(backfillProvider),
			Status:           domain.BackfillQueued,
		}
		worker.Enqueue(req, 0)
	}

	steps := make([]string, len(symbols))
	copy(steps, symbols)
	stepLog := applog.NewStepLogger(log, "backfill run", steps)

	go worker.Run(ctx)

	failures := 0
	for i := 0; i < len(symbols); i++ {
		req := <-worker.Completed()
		stepLog.StartStep(string(req.Symbol))
		switch req.Status {
		case domain.BackfillSucceeded:
			log.Info().Str("symbol", string(req.Symbol)).Int("bars", req.BarsRetrieved).Msg("backfill completed")
		default:
			failures++
			log.Error().Str("symbol", string(req.Symbol)).Str("reason", req.FailureReason).Msg("backfill failed")
		}
		stepLog.CompleteStep()
	}
	worker.Stop()
	stepLog.Finish()

	if failures > 0 {
		return fmt.Errorf("%d of %d symbols failed to backfill", failures, len(symbols))
	}
	return nil
}
