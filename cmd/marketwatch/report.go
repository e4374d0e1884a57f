package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/marketwatch/internal/quality/report"
)

var (
	reportAddr   string
	reportDate   string
	reportFormat string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Pull a daily or weekly quality rollup from a running serve process",
	}
	cmd.PersistentFlags().StringVar(&reportAddr, "addr", "http://127.0.0.1:9090", "ops HTTP server base URL")
	cmd.PersistentFlags().StringVar(&reportFormat, "format", "json", "output format: json|csv|markdown")

	dailyCmd := &cobra.Command{
		Use:   "daily",
		Short: "Pull the daily report",
		RunE:  runDailyReport,
	}
	dailyCmd.Flags().StringVar(&reportDate, "date", "", "report date, YYYY-MM-DD (defaults to today, UTC)")

	weeklyCmd := &cobra.Command{
		Use:   "weekly",
		Short: "Pull the weekly report",
		RunE:  runWeeklyReport,
	}
	weeklyCmd.Flags().StringVar(&reportDate, "week-start", "", "week start date, YYYY-MM-DD (defaults to this week, UTC)")

	cmd.AddCommand(dailyCmd, weeklyCmd)
	return cmd
}

func runDailyReport(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfig()
	if err != nil {
		fatal(log, err, "failed to load config")
	}

	url := strings.TrimSuffix(reportAddr, "/") + "/report/daily"
	if reportDate != "" {
		url += "?date=" + reportDate
	}

	var rep report.DailyReport
	if err := fetchReport(url, &rep); err != nil {
		fatal(log, err, "failed to fetch daily report")
	}
	return renderDailyReport(rep)
}

func runWeeklyReport(cmd *cobra.Command, args []string) error {
	_, log, err := loadConfig()
	if err != nil {
		fatal(log, err, "failed to load config")
	}

	url := strings.TrimSuffix(reportAddr, "/") + "/report/weekly"
	if reportDate != "" {
		url += "?week_start=" + reportDate
	}

	var rep report.WeeklyReport
	if err := fetchReport(url, &rep); err != nil {
		fatal(log, err, "failed to fetch weekly report")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func fetchReport(url string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func renderDailyReport(rep report.DailyReport) error {
	switch reportFormat {
	case "csv":
		out, err := report.ExportCSV(rep)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	case "markdown":
		_, err := os.Stdout.Write(report.ExportMarkdown(rep))
		return err
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
}
