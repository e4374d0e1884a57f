package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/quality/report"
)

type fakeDashboard struct {
	health []domain.SymbolHealth
}

func (f fakeDashboard) GetDashboard() []domain.SymbolHealth { return f.health }

type fakeReportSource struct{}

func (fakeReportSource) GenerateDailyReport(date time.Time, opts report.Options) report.DailyReport {
	return report.DailyReport{Date: date}
}

func (fakeReportSource) GenerateWeeklyReport(weekStart time.Time, opts report.Options) report.WeeklyReport {
	return report.WeeklyReport{WeekStart: weekStart}
}

func TestServer_Healthz(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, fakeDashboard{}, fakeReportSource{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	r.SetBackfillQueueLength(3)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, fakeDashboard{}, fakeReportSource{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "marketwatch_backfill_queue_length 3")
}

func TestServer_Dashboard(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	dash := fakeDashboard{health: []domain.SymbolHealth{{Symbol: "AAPL", State: domain.HealthHealthy, Score: 100}}}
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, dash, fakeReportSource{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/dashboard", nil)
	srv.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"Symbol":"AAPL"`)
}

func TestServer_DailyReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, fakeDashboard{}, fakeReportSource{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/report/daily?date=2026-01-02", nil)
	srv.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"Date":"2026-01-02`)
}

func TestServer_WeeklyReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, fakeDashboard{}, fakeReportSource{}, zerolog.Nop())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/report/weekly", nil)
	srv.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, reg, fakeDashboard{}, fakeReportSource{}, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.NoError(t, srv.Shutdown(context.Background()))
	err := <-errCh
	assert.ErrorIs(t, err, http.ErrServerClosed)
}
