// Package anomaly implements the Anomaly Detector (spec.md §4.F):
// per-symbol rolling price/volume statistics (Welford-style incremental
// mean/variance over a bounded window), z-score and percent-deviation
// based spike/drop detection, crossed-market and wide-spread checks on
// quotes, and an independent stale-data sweep.
//
// Grounded on the teacher's internal/quality/validator.go anomaly-scoring
// shape (AnomalyDetectionConfig with separate price/volume/spread
// sub-configs) and its incremental-statistics style in
// internal/metrics/freshness.go (a single rolling accumulator mutated on
// each observation rather than recomputed from a stored history).
package anomaly

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// Config configures the Anomaly Detector (component F's slice of
// spec.md §6).
type Config struct {
	PriceSpikeThresholdPercent     float64
	VolumeSpikeThresholdMultiplier float64
	VolumeDropThresholdMultiplier  float64
	SpreadThresholdPercent         float64
	RapidChangeThresholdPercent    float64
	RapidChangeWindowSeconds       int
	ZScoreThreshold                float64
	MinSamplesForStatistics        int
	EnablePriceAnomalies           bool
	EnableVolumeAnomalies          bool
	EnableSpreadAnomalies          bool
	AlertCooldownSeconds           int
}

const maxRollingSamples = 1000
const maxAnomaliesPerSymbol = 1000
const anomalyRetention = 7 * 24 * time.Hour
const cooldownRetention = time.Hour

// rollingStats is a bounded Welford-compatible incremental accumulator:
// it tracks a fixed-size FIFO window and the running sum/sum-of-squares
// over exactly the values currently in that window.
type rollingStats struct {
	values []float64
	sum    float64
	sumSq  float64
}

func (r *rollingStats) add(v float64) {
	r.values = append(r.values, v)
	r.sum += v
	r.sumSq += v * v
	if len(r.values) > maxRollingSamples {
		evicted := r.values[0]
		r.values = r.values[1:]
		r.sum -= evicted
		r.sumSq -= evicted * evicted
	}
}

func (r *rollingStats) count() int { return len(r.values) }

func (r *rollingStats) mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.sum / float64(len(r.values))
}

func (r *rollingStats) stdev() float64 {
	n := len(r.values)
	if n < 2 {
		return 0
	}
	mean := r.mean()
	variance := r.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

type symbolState struct {
	priceStats  rollingStats
	volumeStats rollingStats
	midStats    rollingStats

	lastPrice   float64
	hasLastPrice bool
	lastPriceAt time.Time

	lastEventAt time.Time
	isStale     bool

	anomalies []domain.DataAnomaly
	cooldowns map[domain.AnomalyType]time.Time
}

func newSymbolState() *symbolState {
	return &symbolState{cooldowns: make(map[domain.AnomalyType]time.Time)}
}

// Listener is invoked synchronously whenever an anomaly is published
// (i.e. survives the per-(symbol,type) cooldown).
type Listener func(domain.DataAnomaly)

// Detector is the Anomaly Detector. Safe for concurrent use.
type Detector struct {
	cfg Config

	mu       sync.Mutex
	bySymbol map[domain.Symbol]*symbolState
	listener Listener

	globalCount int64

	dayCounterDate string
	dayCounter     int64
}

// New constructs a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, bySymbol: make(map[domain.Symbol]*symbolState)}
}

// SetListener installs the callback invoked on every published anomaly.
func (d *Detector) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

func (d *Detector) stateFor(symbol domain.Symbol) *symbolState {
	st, ok := d.bySymbol[symbol]
	if !ok {
		st = newSymbolState()
		d.bySymbol[symbol] = st
	}
	return st
}

// nextID generates the per-day monotonic anomaly ID "ANM-YYYYMMDD-NNNNNN".
// Caller holds d.mu.
func (d *Detector) nextID(now time.Time) string {
	date := now.UTC().Format("20060102")
	if date != d.dayCounterDate {
		d.dayCounterDate = date
		d.dayCounter = 0
	}
	d.dayCounter++
	return fmt.Sprintf("ANM-%s-%06d", date, d.dayCounter)
}

// publish appends an anomaly to the per-symbol bounded list, applies the
// per-(symbol,type) cooldown, and invokes the listener. Caller holds d.mu.
// Returns the anomaly if it was published, or nil if suppressed by
// cooldown.
func (d *Detector) publish(st *symbolState, symbol domain.Symbol, now time.Time, anomalyType domain.AnomalyType, severity domain.AnomalySeverity, description string, expected, actual, deviationPercent, zscore float64) *domain.DataAnomaly {
	if until, ok := st.cooldowns[anomalyType]; ok && now.Before(until) {
		return nil
	}

	a := domain.DataAnomaly{
		ID:               d.nextID(now),
		Timestamp:        now,
		Symbol:           symbol,
		Type:             anomalyType,
		Severity:         severity,
		Description:      description,
		Expected:         expected,
		Actual:           actual,
		DeviationPercent: deviationPercent,
		ZScore:           zscore,
	}

	st.anomalies = append(st.anomalies, a)
	if len(st.anomalies) > maxAnomaliesPerSymbol {
		st.anomalies = st.anomalies[len(st.anomalies)-maxAnomaliesPerSymbol:]
	}
	st.cooldowns[anomalyType] = now.Add(time.Duration(d.cfg.AlertCooldownSeconds) * time.Second)
	d.globalCount++

	listener := d.listener
	if listener != nil {
		listener(a)
	}
	return &a
}

// ProcessTrade implements spec.md §4.F's processTrade operation.
// Non-positive prices are rejected (not recorded, no anomaly emitted).
func (d *Detector) ProcessTrade(symbol domain.Symbol, ts time.Time, price decimal.Decimal, volume int64) {
	if price.Sign() <= 0 {
		return
	}
	priceF, _ := price.Float64()

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateFor(symbol)
	st.lastEventAt = ts
	st.isStale = false

	if st.priceStats.count() >= d.cfg.MinSamplesForStatistics && d.cfg.EnablePriceAnomalies {
		mean := st.priceStats.mean()
		sigma := st.priceStats.stdev()
		if mean > 0 {
			var z float64
			if sigma > 0 {
				z = (priceF - mean) / sigma
			}
			devPct := math.Abs(priceF-mean) / mean * 100

			if (sigma > 0 && math.Abs(z) > d.cfg.ZScoreThreshold) || devPct > d.cfg.PriceSpikeThresholdPercent {
				anomalyType := domain.AnomalyPriceSpike
				if priceF < mean {
					anomalyType = domain.AnomalyPriceDrop
				}
				severity := domain.AnomalyWarning
				if devPct > 2*d.cfg.PriceSpikeThresholdPercent {
					severity = domain.AnomalyCritical
				} else if devPct > d.cfg.PriceSpikeThresholdPercent {
					severity = domain.AnomalyError
				}
				d.publish(st, symbol, ts, anomalyType, severity,
					fmt.Sprintf("price %.4f deviates %.2f%% from rolling mean %.4f", priceF, devPct, mean),
					mean, priceF, devPct, z)
			}
		}
	}

	if st.hasLastPrice && d.cfg.RapidChangeWindowSeconds > 0 {
		elapsed := ts.Sub(st.lastPriceAt)
		if elapsed <= time.Duration(d.cfg.RapidChangeWindowSeconds)*time.Second && st.lastPrice > 0 {
			deltaPct := math.Abs(priceF-st.lastPrice) / st.lastPrice * 100
			if deltaPct > d.cfg.RapidChangeThresholdPercent {
				d.publish(st, symbol, ts, domain.AnomalyRapidPriceChange, domain.AnomalyWarning,
					fmt.Sprintf("price moved %.2f%% within %s", deltaPct, elapsed),
					st.lastPrice, priceF, deltaPct, 0)
			}
		}
	}

	if volume > 0 && d.cfg.EnableVolumeAnomalies && st.volumeStats.count() >= d.cfg.MinSamplesForStatistics {
		meanVolume := st.volumeStats.mean()
		if meanVolume > 0 {
			mult := float64(volume) / meanVolume
			if d.cfg.VolumeSpikeThresholdMultiplier > 0 && mult > d.cfg.VolumeSpikeThresholdMultiplier {
				severity := domain.AnomalyWarning
				if mult > 2*d.cfg.VolumeSpikeThresholdMultiplier {
					severity = domain.AnomalyError
				}
				d.publish(st, symbol, ts, domain.AnomalyVolumeSpike, severity,
					fmt.Sprintf("volume %d is %.2fx the rolling mean %.2f", volume, mult, meanVolume),
					meanVolume, float64(volume), (mult-1)*100, 0)
			} else if d.cfg.VolumeDropThresholdMultiplier > 0 && mult < d.cfg.VolumeDropThresholdMultiplier {
				severity := domain.AnomalyWarning
				if mult < d.cfg.VolumeDropThresholdMultiplier/2 {
					severity = domain.AnomalyError
				}
				d.publish(st, symbol, ts, domain.AnomalyVolumeDrop, severity,
					fmt.Sprintf("volume %d is %.2fx the rolling mean %.2f", volume, mult, meanVolume),
					meanVolume, float64(volume), (mult-1)*100, 0)
			}
		}
	}

	st.priceStats.add(priceF)
	st.volumeStats.add(float64(volume))
	st.lastPrice = priceF
	st.hasLastPrice = true
	st.lastPriceAt = ts
}

// ProcessQuote implements spec.md §4.F's processQuote operation.
func (d *Detector) ProcessQuote(symbol domain.Symbol, ts time.Time, bid, ask decimal.Decimal) {
	bidF, _ := bid.Float64()
	askF, _ := ask.Float64()

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.stateFor(symbol)
	st.lastEventAt = ts
	st.isStale = false

	if bidF > askF {
		d.publish(st, symbol, ts, domain.AnomalyCrossedMarket, domain.AnomalyError,
			fmt.Sprintf("bid %.4f exceeds ask %.4f", bidF, askF),
			askF, bidF, 0, 0)
		return
	}

	mid := (bidF + askF) / 2
	if d.cfg.EnableSpreadAnomalies && mid > 0 && st.midStats.count() >= d.cfg.MinSamplesForStatistics {
		spreadPct := (askF - bidF) / mid * 100
		if spreadPct > d.cfg.SpreadThresholdPercent {
			d.publish(st, symbol, ts, domain.AnomalySpreadWide, domain.AnomalyWarning,
				fmt.Sprintf("spread %.4f%% exceeds threshold %.4f%%", spreadPct, d.cfg.SpreadThresholdPercent),
				d.cfg.SpreadThresholdPercent, spreadPct, 0, 0)
			return
		}
	}

	if mid > 0 {
		st.midStats.add(mid)
	}
}

// ScanStaleData runs the independent 10-second stale-data cadence. For
// every symbol silent longer than staleThresholdSeconds (resolved by the
// caller per liquidity profile) and not already marked stale, it emits a
// StaleData anomaly and marks the symbol stale.
func (d *Detector) ScanStaleData(now time.Time, staleThresholdFor func(domain.Symbol) time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for symbol, st := range d.bySymbol {
		if st.isStale || st.lastEventAt.IsZero() {
			continue
		}
		threshold := staleThresholdFor(symbol)
		age := now.Sub(st.lastEventAt)
		if age > threshold {
			st.isStale = true
			d.publish(st, symbol, now, domain.AnomalyStaleData, domain.AnomalyWarning,
				fmt.Sprintf("no events for %s (threshold %s)", age, threshold),
				threshold.Seconds(), age.Seconds(), 0, 0)
		}
	}
}

// Cleanup drops anomalies older than 7 days and cooldown entries older
// than 1 hour. Intended to run periodically (e.g. hourly).
func (d *Detector) Cleanup(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	anomalyCutoff := now.Add(-anomalyRetention)
	cooldownCutoff := now.Add(-cooldownRetention)

	for _, st := range d.bySymbol {
		filtered := st.anomalies[:0]
		for _, a := range st.anomalies {
			if a.Timestamp.After(anomalyCutoff) {
				filtered = append(filtered, a)
			}
		}
		st.anomalies = filtered

		for t, until := range st.cooldowns {
			if until.Before(cooldownCutoff) {
				delete(st.cooldowns, t)
			}
		}
	}
}

// GlobalCount returns the total number of anomalies published so far.
func (d *Detector) GlobalCount() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalCount
}

// RecentAnomalies returns the bounded, FIFO-ordered anomaly list for a
// symbol.
func (d *Detector) RecentAnomalies(symbol domain.Symbol) []domain.DataAnomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.bySymbol[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.DataAnomaly, len(st.anomalies))
	copy(out, st.anomalies)
	return out
}
