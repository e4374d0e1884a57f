package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/anomaly"
	"github.com/sawpanic/marketwatch/internal/quality/completeness"
	"github.com/sawpanic/marketwatch/internal/quality/gap"
	"github.com/sawpanic/marketwatch/internal/quality/latency"
	"github.com/sawpanic/marketwatch/internal/quality/orchestrator"
	"github.com/sawpanic/marketwatch/internal/quality/report"
	"github.com/sawpanic/marketwatch/internal/quality/sequence"
	"github.com/sawpanic/marketwatch/internal/quality/sla"
	streamclient "github.com/sawpanic/marketwatch/internal/streaming/client"
	"github.com/sawpanic/marketwatch/internal/streaming/subscription"
	"github.com/sawpanic/marketwatch/internal/telemetry"
)

// opsAddr is set by the --ops-addr flag on the serve command.
var opsAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run live ingestion, quality detection, and the ops HTTP server",
		Long: `serve connects the streaming client to components A-L, running the
full real-time quality pipeline for every symbol in the universe config,
and exposes /healthz, /metrics, /debug/dashboard, /report/daily, and
/report/weekly over HTTP until interrupted.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&opsAddr, "ops-addr", ":9090", "address the ops HTTP server listens on")
	return cmd
}

// ingestSink adapts *orchestrator.Orchestrator to streamclient.EventSink,
// additionally counting raw inbound events so serve can report ingestion
// throughput without the orchestrator needing to know about the wire
// transport that feeds it.
type ingestSink struct {
	orch *orchestrator.Orchestrator
	rate *eventRateCounter
}

func (s *ingestSink) ProcessTrade(t domain.TradeEvent) {
	s.rate.Count(time.Now().Unix())
	s.orch.ProcessTrade(t)
}

func (s *ingestSink) ProcessQuote(q domain.QuoteEvent) {
	s.rate.Count(time.Now().Unix())
	s.orch.ProcessQuote(q)
}

func (s *ingestSink) ProcessAggregate(b domain.AggregateBar) {
	s.rate.Count(time.Now().Unix())
	s.orch.ProcessAggregate(b)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		fatal(log, err, "failed to load config")
	}

	gapAnalyzer := gap.New(gapConfig(cfg.Gap), log)
	seqTracker := sequence.New(sequenceConfig(cfg.Sequence))
	completenessCalc := completeness.New(completenessConfig(cfg.Completeness))
	anomalyDetector := anomaly.New(anomalyConfig(cfg.Anomaly))
	latencyHist := latency.New()
	slaMonitor := sla.New(slaConfig(cfg.SLA))

	rate := &eventRateCounter{}
	orch := orchestrator.New(gapAnalyzer, seqTracker, completenessCalc, anomalyDetector, latencyHist, slaMonitor, rate.Rate, log)

	profiles := liquidityProfiles(cfg.Universe)
	for symbol, profile := range profiles {
		orch.RegisterSymbolLiquidity(symbol, profile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	subs := subscription.New(domain.SubscriptionID(1))
	for symbol := range profiles {
		subs.Subscribe(symbol, domain.EventKindTrades)
		subs.Subscribe(symbol, domain.EventKindQuotes)
		subs.Subscribe(symbol, domain.EventKindAggregates)
	}

	sink := &ingestSink{orch: orch, rate: rate}
	client := streamclient.New(streamingConfig(cfg.Streaming), subs, sink, log)

	streamErrCh := make(chan error, 1)
	go func() { streamErrCh <- client.Run(ctx) }()

	reg := prometheus.NewRegistry()
	telemetry.NewRegistry(reg)
	reportOpts := report.Options{
		ExpectedEventsPerHour: cfg.Gap.ExpectedEventsPerHour,
		PreMarketHours:        cfg.Gap.PreMarketHours,
		AfterHoursHours:       cfg.Gap.AfterHoursHours,
		GapConfig:             gapConfig(cfg.Gap),
	}
	opsServer := telemetry.NewServer(telemetry.Config{Addr: opsAddr, ReportOptions: reportOpts}, reg, orch, orch, log)

	opsErrCh := make(chan error, 1)
	go func() { opsErrCh <- opsServer.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-streamErrCh:
		if err != nil {
			log.Error().Err(err).Msg("streaming client exited")
		}
	case err := <-opsErrCh:
		if err != nil {
			log.Error().Err(err).Msg("ops server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown error")
	}
	client.Dispose()

	return nil
}
