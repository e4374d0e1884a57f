// Package client implements the Streaming Client (spec.md §4.L): a
// single WebSocket session that connects, authenticates, subscribes, and
// forwards normalized trade/quote/aggregate events to the Orchestrator.
//
// Grounded on the teacher's internal/providers/kraken/websocket.go —
// the mutex-guarded connection state, the messageLoop/pingLoop pair, and
// the non-blocking single-slot reconnect-trigger channel are all kept in
// the same shape, generalized from Kraken's bespoke array-channel
// protocol to the feed's ev-discriminated frame protocol described in
// spec.md §6. The outbound control-frame pacer and the connect-step
// circuit breaker are new: neither concern existed in the teacher, so
// they are grounded on golang.org/x/time/rate and github.com/sony/gobreaker
// respectively, both already present in the example pack's dependency
// surface (internal/http and internal/providers/guards use similar
// breaker-around-an-unreliable-remote-call patterns).
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/marketwatch/internal/domain"
	"github.com/sawpanic/marketwatch/internal/qerr"
	"github.com/sawpanic/marketwatch/internal/streaming/subscription"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// State is the Streaming Client's connection lifecycle state (spec.md
// §4.L): Disconnected → Connecting → Connected → Authenticated →
// ReceivingUpdates → {Reconnecting | Disposed}, with Reconnecting
// transitioning back through Connecting. Failed is the terminal state
// entered on an explicit auth_failed or when Run's reconnect attempts end
// without a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateReceivingUpdates
	StateReconnecting
	StateDisposed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReceivingUpdates:
		return "receiving_updates"
	case StateReconnecting:
		return "reconnecting"
	case StateDisposed:
		return "disposed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Feed selects which of Polygon's four WebSocket clusters to dial.
type Feed string

const (
	FeedStocks  Feed = "stocks"
	FeedOptions Feed = "options"
	FeedForex   Feed = "forex"
	FeedCrypto  Feed = "crypto"
)

// Config bounds one Streaming Client instance.
type Config struct {
	Feed                   Feed
	Delayed                bool
	APIKey                 string
	PingInterval           time.Duration
	HandshakeTimeout       time.Duration
	MaxReconnectAttempts   int
	BaseReconnectDelay     time.Duration
	MaxReconnectDelay      time.Duration
	ControlFrameRatePerSec float64
}

func (c Config) endpoint() string {
	host := "socket.polygon.io"
	if c.Delayed {
		host = "delayed.polygon.io"
	}
	return fmt.Sprintf("wss://%s/%s", host, c.Feed)
}

// EventSink is the Orchestrator's ingestion surface, borrowed by the
// Streaming Client as a narrow interface so this package never imports
// the orchestrator package directly (spec.md §3's ownership rule: L
// publishes to J's sink, it does not own J).
type EventSink interface {
	ProcessTrade(domain.TradeEvent)
	ProcessQuote(domain.QuoteEvent)
	ProcessAggregate(domain.AggregateBar)
}

// closed exchange-code table (spec.md §4.L); codes outside this table
// fall back to "EX_<code>".
var exchangeNames = map[int]string{
	1: "NYSE", 2: "AMEX", 3: "ARCA", 4: "NASDAQ", 5: "NASDAQ_BX",
	6: "NASDAQ_PSX", 7: "BATS_Y", 8: "BATS", 9: "IEX", 10: "EDGX",
	11: "EDGA", 12: "CHX", 13: "NSX", 14: "FINRA_ADF", 15: "CBOE",
	16: "MEMX", 17: "MIAX", 19: "LTSE",
}

func exchangeName(code int) string {
	if name, ok := exchangeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("EX_%d", code)
}

// sellConditionCodes is the closed aggressor table: these trade
// condition codes mean the aggressor was the seller; every other code
// (including none at all) means Unknown.
var sellConditionCodes = map[int]struct{}{29: {}, 30: {}, 31: {}, 32: {}, 33: {}}

func aggressorFromConditions(codes []int) domain.Aggressor {
	for _, c := range codes {
		if _, ok := sellConditionCodes[c]; ok {
			return domain.AggressorSell
		}
	}
	return domain.AggressorUnknown
}

// Dialer is the subset of *websocket.Dialer the client needs, narrowed so
// tests can substitute a fake transport.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader map[string][]string) (*websocket.Conn, *WSResponse, error)
}

// WSResponse is an unused placeholder satisfying *http.Response's shape
// without importing net/http here; gorilla's real dialer signature is
// adapted to it via dialerAdapter.
type WSResponse struct{}

type dialerAdapter struct{ d *websocket.Dialer }

func (a dialerAdapter) DialContext(ctx context.Context, urlStr string, header map[string][]string) (*websocket.Conn, *WSResponse, error) {
	conn, _, err := a.d.DialContext(ctx, urlStr, header)
	return conn, nil, err
}

// Client is the Streaming Client. One instance owns exactly one logical
// session; Subscribe/Unsubscribe may be called concurrently with a live
// session and are idempotent with respect to the shared Subscription
// Manager.
type Client struct {
	cfg    Config
	subs   *subscription.Manager
	sink   EventSink
	log    zerolog.Logger
	dialer Dialer
	pacer  *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	isDisposing bool
	sessionID   string

	sendMu sync.Mutex

	reconnectCh chan struct{}
	loopDone    chan struct{}

	seq int64 // atomic, monotonically-incrementing per-session sequence

	jitterFn func() float64 // overridable in tests; defaults to rand.Float64
}

// New constructs a Streaming Client. subs is borrowed, not owned — the
// caller constructs one subscription.Manager per provider and shares it
// across reconnects.
func New(cfg Config, subs *subscription.Manager, sink EventSink, log zerolog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "streaming-client-connect",
		MaxRequests: 1,
		Timeout:     cfg.MaxReconnectDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	rl := rate.NewLimiter(rate.Limit(cfg.ControlFrameRatePerSec), 1)
	if cfg.ControlFrameRatePerSec <= 0 {
		rl = rate.NewLimiter(rate.Inf, 1)
	}

	return &Client{
		cfg:         cfg,
		subs:        subs,
		sink:        sink,
		log:         log,
		dialer:      dialerAdapter{d: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}},
		pacer:       rl,
		breaker:     breaker,
		state:       StateDisconnected,
		reconnectCh: make(chan struct{}, 1),
		jitterFn:    rand.Float64,
	}
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) disposing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDisposing
}

// Run drives the full connect → receive → reconnect lifecycle until ctx
// is cancelled, Dispose is called, or the reconnect budget is exhausted
// (in which case it returns a non-nil error and the client's state is
// Failed). A fatal auth_failed during the initial connect or any
// reconnect attempt also returns immediately without retrying, per
// spec.md §4.L's "AuthenticationError ... does not reconnect".
func (c *Client) Run(ctx context.Context) error {
	c.sessionID = uuid.NewString()
	c.loopDone = make(chan struct{})

	if err := c.connect(ctx); err != nil {
		var authErr *qerr.AuthenticationError
		if errors.As(err, &authErr) {
			c.setState(StateFailed)
			return err
		}
		c.log.Warn().Err(err).Msg("streaming client initial connect failed, entering reconnect loop")
		c.setState(StateReconnecting)
		if !c.reconnect(ctx) {
			c.setState(StateFailed)
			return fmt.Errorf("streaming client: exhausted %d reconnect attempts", c.cfg.MaxReconnectAttempts)
		}
	}

	go c.receiveLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			c.Dispose()
			return ctx.Err()
		case <-c.loopDone:
			return nil
		case <-c.reconnectCh:
			if c.disposing() {
				continue
			}
			c.setState(StateReconnecting)
			c.log.Warn().Str("session", c.sessionID).Msg("streaming client reconnecting")
			if !c.reconnect(ctx) {
				c.setState(StateFailed)
				return fmt.Errorf("streaming client: exhausted %d reconnect attempts", c.cfg.MaxReconnectAttempts)
			}
			c.loopDone = make(chan struct{})
			go c.receiveLoop(ctx)
		}
	}
}

// triggerReconnect requests a reconnect without blocking; concurrent
// triggers (a read error racing a ping failure) collapse into one
// pending request, mirroring the teacher's single-slot reconnect gate.
func (c *Client) triggerReconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// reconnect re-runs the connect sequence up to MaxReconnectAttempts
// times with exponential backoff and jitter (spec.md §4.L).
func (c *Client) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.backoffDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		err := c.connect(ctx)
		if err == nil {
			return true
		}

		var authErr *qerr.AuthenticationError
		if errors.As(err, &authErr) {
			c.log.Error().Err(err).Msg("streaming client auth failed during reconnect, not retrying")
			return false
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("streaming client reconnect attempt failed")
	}
	return false
}

// backoffDelay computes min(baseDelay*2^(k-1), maxDelay) ± 20% jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.cfg.BaseReconnectDelay
	max := c.cfg.MaxReconnectDelay
	backoff := base * time.Duration(1<<uint(attempt-1))
	if backoff > max {
		backoff = max
	}
	jitter := (c.jitterFn()*2 - 1) * 0.2 * float64(backoff)
	return backoff + time.Duration(jitter)
}

// connect implements spec.md §4.L's connect sequence, steps 1-7 (minus
// starting the receive loop, which Run/reconnect do once connect
// returns, so the lock isn't held across a blocking read).
func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	c.mu.Lock()
	stale := c.conn
	c.conn = nil
	c.mu.Unlock()
	if stale != nil {
		stale.Close()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		conn, _, dialErr := c.dialer.DialContext(ctx, c.cfg.endpoint(), nil)
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	})
	if err != nil {
		return &qerr.ConnectionError{Op: "dial", Err: err}
	}
	conn := result.(*websocket.Conn)

	if err := c.waitForStatus(conn, "connected"); err != nil {
		conn.Close()
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}
	c.setState(StateAuthenticated)

	if err := c.resubscribeAll(ctx); err != nil {
		c.log.Error().Err(err).Msg("streaming client resubscribe failed after connect")
	}

	c.setState(StateReceivingUpdates)
	return nil
}

// waitForStatus blocks on conn until a status frame with the given
// status value arrives, ignoring every other frame in between (spec.md
// §4.L step 3).
func (c *Client) waitForStatus(conn *websocket.Conn, want string) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return &qerr.ConnectionError{Op: "waitForStatus(" + want + ")", Err: err}
		}
		var frames []statusFrame
		if err := json.Unmarshal(data, &frames); err != nil {
			continue
		}
		for _, f := range frames {
			if f.Ev != "status" {
				continue
			}
			if f.Status == want {
				return nil
			}
			if f.Status == "auth_failed" {
				return &qerr.AuthenticationError{Message: f.Message}
			}
		}
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	if err := c.send(conn, map[string]string{"action": "auth", "params": c.cfg.APIKey}); err != nil {
		return err
	}
	return c.waitForStatus(conn, "auth_success")
}

// resubscribeAll sends up to three subscribe frames — one per event
// kind with at least one tracked symbol — covering every pair the
// Subscription Manager currently tracks (spec.md §4.L step 7).
func (c *Client) resubscribeAll(ctx context.Context) error {
	all := c.subs.All()
	if len(all) == 0 {
		return nil
	}

	bySymbolKind := map[domain.EventKind][]domain.Symbol{}
	for _, sub := range all {
		bySymbolKind[sub.Kind] = append(bySymbolKind[sub.Kind], sub.Symbol)
	}

	for kind, symbols := range bySymbolKind {
		channels := channelsFor(kind, symbols)
		if len(channels) == 0 {
			continue
		}
		if err := c.sendControlFrame(ctx, "subscribe", strings.Join(channels, ",")); err != nil {
			return err
		}
	}
	return nil
}

// channelsFor maps an event kind and its symbols to wire channel names.
// Aggregates fan out into both second (A) and minute (AM) channels,
// since spec.md §4.L models both timeframes under one tracked kind.
func channelsFor(kind domain.EventKind, symbols []domain.Symbol) []string {
	var prefixes []string
	switch kind {
	case domain.EventKindTrades:
		prefixes = []string{"T"}
	case domain.EventKindQuotes:
		prefixes = []string{"Q"}
	case domain.EventKindAggregates:
		prefixes = []string{"A", "AM"}
	default:
		return nil
	}

	channels := make([]string, 0, len(prefixes)*len(symbols))
	for _, prefix := range prefixes {
		for _, sym := range symbols {
			channels = append(channels, fmt.Sprintf("%s.%s", prefix, sym))
		}
	}
	return channels
}

// Subscribe registers (symbol, kind) with the Subscription Manager and,
// if this is the pair's first reference, sends a protocol subscribe
// frame. Safe to call before the first connect completes; the frame is
// simply skipped if there is no live connection yet (it will be covered
// by the next connect's resubscribe pass).
func (c *Client) Subscribe(ctx context.Context, symbol domain.Symbol, kind domain.EventKind) (domain.SubscriptionID, error) {
	id, isNew := c.subs.SubscribeDetailed(symbol, kind)
	if !isNew {
		return id, nil
	}
	channels := channelsFor(kind, []domain.Symbol{symbol})
	if len(channels) == 0 {
		return id, nil
	}
	return id, c.sendControlFrame(ctx, "subscribe", strings.Join(channels, ","))
}

// Unsubscribe decrements (symbol, kind)'s refCount and, if this call
// dropped it to zero, sends a protocol unsubscribe frame.
func (c *Client) Unsubscribe(ctx context.Context, id domain.SubscriptionID) error {
	sub, removed, ok := c.subs.Unsubscribe(id)
	if !ok || !removed {
		return nil
	}
	channels := channelsFor(sub.Kind, []domain.Symbol{sub.Symbol})
	if len(channels) == 0 {
		return nil
	}
	return c.sendControlFrame(ctx, "unsubscribe", strings.Join(channels, ","))
}

// sendControlFrame paces outbound control frames through the rate
// limiter before taking the exclusive send lock, so a burst of
// subscribe calls can't flood the wire even though each individual send
// is still serialized.
func (c *Client) sendControlFrame(ctx context.Context, action, params string) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.send(conn, map[string]string{"action": action, "params": params})
}

// send serializes one frame through the exclusive send lock so outbound
// frames never interleave on the wire (spec.md §4.L).
func (c *Client) send(conn *websocket.Conn, v any) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &qerr.ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// receiveLoop reads frames until the connection fails or Dispose is
// called, dispatching each decoded element to the appropriate handler.
// gorilla/websocket reassembles fragmented frames into one complete
// message internally, satisfying spec.md §4.L's "concatenate frames
// until endOfMessage" without extra bookkeeping here.
func (c *Client) receiveLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	done := c.loopDone
	c.mu.Unlock()

	defer close(done)
	go c.pingLoop(ctx, conn, done)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.disposing() {
				return
			}
			c.log.Warn().Err(err).Msg("streaming client read error")
			c.triggerReconnect()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.sendMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.sendMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("streaming client ping failed")
				c.triggerReconnect()
				return
			}
		}
	}
}

// dispatch decodes one frame (a JSON array of elements) and routes each
// element by its ev discriminator (spec.md §4.L).
func (c *Client) dispatch(data []byte) {
	var envelopes []json.RawMessage
	if err := json.Unmarshal(data, &envelopes); err != nil {
		c.log.Debug().Str("preview", preview(data)).Msg("streaming client dropped unparseable frame")
		return
	}

	for _, raw := range envelopes {
		var head struct {
			Ev string `json:"ev"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			c.log.Debug().Str("preview", preview(raw)).Msg("streaming client dropped unparseable element")
			continue
		}

		switch head.Ev {
		case "T":
			c.handleTrade(raw)
		case "Q":
			c.handleQuote(raw)
		case "A", "AM":
			c.handleAggregate(raw, head.Ev)
		case "status":
			var sf statusFrame
			_ = json.Unmarshal(raw, &sf)
			c.log.Info().Str("status", sf.Status).Str("message", sf.Message).Msg("streaming client status frame")
		default:
			c.log.Debug().Str("ev", head.Ev).Msg("streaming client dropped unrecognized frame")
		}
	}
}

func preview(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

type statusFrame struct {
	Ev      string `json:"ev"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type tradeFrame struct {
	Ev    string  `json:"ev"`
	Sym   string  `json:"sym"`
	Price float64 `json:"p"`
	Size  int64   `json:"s"`
	T     int64   `json:"t"`
	X     int     `json:"x"`
	C     []int   `json:"c"`
}

type quoteFrame struct {
	Ev  string  `json:"ev"`
	Sym string  `json:"sym"`
	Bp  float64 `json:"bp"`
	Bs  int64   `json:"bs"`
	Ap  float64 `json:"ap"`
	As  int64   `json:"as"`
	T   int64   `json:"t"`
	X   int     `json:"x"`
}

type aggregateFrame struct {
	Ev string  `json:"ev"`
	Sym string `json:"sym"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  int64   `json:"v"`
	Vw float64 `json:"vw"`
	S  int64   `json:"s"`
	E  int64   `json:"e"`
	N  int     `json:"n"`
}

func (c *Client) nextSeq() int64 {
	return atomic.AddInt64(&c.seq, 1)
}

func (c *Client) handleTrade(raw json.RawMessage) {
	var f tradeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug().Str("preview", preview(raw)).Msg("streaming client dropped malformed trade frame")
		return
	}
	symbol := domain.NewSymbol(f.Sym)
	if !c.subs.HasSubscription(symbol, domain.EventKindTrades) {
		return
	}

	seq := c.nextSeq()
	event := domain.TradeEvent{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(f.T).UTC(),
		Price:     decimalFromFloat(f.Price),
		Volume:    f.Size,
		Sequence:  &seq,
		Provider:  "polygon",
		Venue:     exchangeName(f.X),
		Aggressor: aggressorFromConditions(f.C),
	}
	c.sink.ProcessTrade(event)
}

func (c *Client) handleQuote(raw json.RawMessage) {
	var f quoteFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug().Str("preview", preview(raw)).Msg("streaming client dropped malformed quote frame")
		return
	}
	symbol := domain.NewSymbol(f.Sym)
	if !c.subs.HasSubscription(symbol, domain.EventKindQuotes) {
		return
	}
	if f.Bp <= 0 || f.Ap <= 0 {
		return // invariant: BidPrice and AskPrice both > 0 at emission
	}

	event := domain.QuoteEvent{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(f.T).UTC(),
		BidPrice:  decimalFromFloat(f.Bp),
		BidSize:   f.Bs,
		AskPrice:  decimalFromFloat(f.Ap),
		AskSize:   f.As,
		Provider:  "polygon",
	}
	c.sink.ProcessQuote(event)
}

func (c *Client) handleAggregate(raw json.RawMessage, ev string) {
	var f aggregateFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug().Str("preview", preview(raw)).Msg("streaming client dropped malformed aggregate frame")
		return
	}
	symbol := domain.NewSymbol(f.Sym)
	if !c.subs.HasSubscription(symbol, domain.EventKindAggregates) {
		return
	}
	if !(f.O > 0 && f.H > 0 && f.L > 0 && f.C > 0) {
		return // spec.md §4.L: drop aggregates whose o/h/l/c are not all > 0
	}

	timeframe := domain.TimeframeSecond
	if ev == "AM" {
		timeframe = domain.TimeframeMinute
	}

	start := time.UnixMilli(f.S).UTC()
	end := time.UnixMilli(f.E).UTC()
	if f.E == 0 {
		// frame omitted e: end is start plus one bar of the timeframe
		end = start.Add(time.Second)
		if timeframe == domain.TimeframeMinute {
			end = start.Add(time.Minute)
		}
	}

	bar := domain.AggregateBar{
		Symbol:     symbol,
		StartTime:  start,
		EndTime:    end,
		Open:       decimalFromFloat(f.O),
		High:       decimalFromFloat(f.H),
		Low:        decimalFromFloat(f.L),
		Close:      decimalFromFloat(f.C),
		Volume:     f.V,
		VWAP:       decimalFromFloat(f.Vw),
		TradeCount: f.N,
		Timeframe:  timeframe,
		Source:     "polygon",
		Sequence:   c.nextSeq(),
	}
	if !bar.Valid() {
		return
	}
	c.sink.ProcessAggregate(bar)
}

// Dispose idempotently tears the session down: it marks isDisposing,
// cancels the receive loop by closing the connection, and waits briefly
// for orderly shutdown before returning (spec.md §5's "Dispose of the
// streaming client is idempotent").
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.isDisposing {
		c.mu.Unlock()
		return
	}
	c.isDisposing = true
	conn := c.conn
	done := c.loopDone
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	c.setState(StateDisposed)
}
