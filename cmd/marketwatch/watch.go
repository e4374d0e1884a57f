package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/marketwatch/internal/domain"
	applog "github.com/sawpanic/marketwatch/internal/log"
)

var (
	watchAddr     string
	watchInterval time.Duration
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow per-symbol health from a running serve process",
		Long: `watch polls a running 'serve' process's /debug/dashboard endpoint and
renders one colored, live-updating line per symbol — a terminal client,
not a second copy of the live quality pipeline.`,
		RunE: runWatch,
	}
	cmd.Flags().StringVar(&watchAddr, "addr", "http://127.0.0.1:9090", "ops HTTP server base URL")
	cmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfig()
	if err != nil {
		fatal(log, err, "failed to load config")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	indicators := make(map[domain.Symbol]*applog.SymbolIndicator)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		dashboard, err := fetchDashboard(client, watchAddr)
		if err != nil {
			log.Warn().Err(err).Msg("failed to poll dashboard")
		} else {
			renderDashboard(indicators, dashboard)
		}
		<-ticker.C
	}
}

func fetchDashboard(client *http.Client, addr string) ([]domain.SymbolHealth, error) {
	resp, err := client.Get(strings.TrimSuffix(addr, "/") + "/debug/dashboard")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashboard request failed: %s", resp.Status)
	}

	var health []domain.SymbolHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return health, nil
}

func renderDashboard(indicators map[domain.Symbol]*applog.SymbolIndicator, health []domain.SymbolHealth) {
	fmt.Print("\033[H\033[2J")
	for _, h := range health {
		ind, ok := indicators[h.Symbol]
		if !ok {
			ind = applog.NewSymbolIndicator(h.Symbol)
			indicators[h.Symbol] = ind
		}
		ind.Update(h.State, h.Score, h.ActiveIssues)
		fmt.Println(ind.Render())
	}
}
