// Package session maintains a synchronized local projection of one
// instrument: its candle series, order book ladder, trade tape, and quote
// stats, fed by a Source's push stream with REST backfill and a polling
// fallback for the book.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
	"quotedeck/internal/series"
	"quotedeck/internal/timeparse"
)

const (
	// watchdogInterval is the book health check cadence.
	watchdogInterval = 5 * time.Second
	// quoteStaleAfter is how long the book may go without a push quote
	// before the watchdog falls back to REST polling.
	quoteStaleAfter = 12 * time.Second
	// pollTimeout bounds one fallback quote poll.
	pollTimeout = 4 * time.Second
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// View is a point-in-time snapshot of every projection the session
// maintains. All slices are copies.
type View struct {
	Symbol    string
	Timeframe domain.Timeframe
	Bars      []domain.Bar
	Book      domain.OrderBook
	Trades    []domain.TradePrint
	Mid       float64
	Spread    float64
	Status    domain.StreamState
	StatusMsg string
}

// Session coordinates one (symbol, timeframe) identity. Switching identity
// resets all projections before any fetch, and an epoch counter makes sure
// in-flight work from a previous identity can never land in the current
// one.
type Session struct {
	src feed.Source
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	symbol    string
	tf        domain.Timeframe
	epoch     uint64
	bars      []domain.Bar
	book      book
	tape      tape
	status    domain.StreamState
	statusMsg string
	closed    bool

	stream       feed.Stream
	streamGen    uint64
	streamCancel context.CancelFunc
	pollBusy     bool

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan struct{}
}

// New creates a session on src. It owns no identity until the first
// Switch.
func New(src feed.Source) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		src:    src,
		log:    slog.Default().With("component", "session"),
		ctx:    ctx,
		cancel: cancel,
		status: domain.StreamClosed,
		subs:   make(map[int]chan struct{}),
	}
}

// Switch moves the session to a new (symbol, timeframe) identity. All
// projections reset first, then backfill starts. The stream reconnects
// only when the symbol changed or no live stream exists; a timeframe-only
// switch keeps the socket, since the subscription already covers every
// channel.
func (s *Session) Switch(symbol string, tf domain.Timeframe) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return errors.New("empty symbol")
	}
	if !tf.Valid() {
		return fmt.Errorf("invalid timeframe %q", tf)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	redial := symbol != s.symbol || s.stream == nil
	s.symbol = symbol
	s.tf = tf
	s.epoch++
	epoch := s.epoch
	s.bars = nil
	s.book.reset()
	s.tape.reset()
	if redial {
		s.teardownStreamLocked()
		s.setStatusLocked(domain.StreamConnecting, "connecting "+symbol)
	}
	s.mu.Unlock()
	s.notify()

	go s.backfill(epoch, symbol, tf)
	if redial {
		go s.connectStream(symbol)
	}
	return nil
}

// Run drives the book watchdog until ctx ends or the session closes.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkBook()
		}
	}
}

// Close tears the session down: the stream closes, in-flight work is
// cancelled, and subscriber channels close.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.teardownStreamLocked()
	s.setStatusLocked(domain.StreamClosed, "session closed")
	s.mu.Unlock()

	s.cancel()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// View snapshots every projection at once.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Symbol:    s.symbol,
		Timeframe: s.tf,
		Bars:      append([]domain.Bar(nil), s.bars...),
		Book:      s.book.snapshot(),
		Trades:    s.tape.snapshot(),
		Mid:       s.midLocked(),
		Spread:    s.spreadLocked(),
		Status:    s.status,
		StatusMsg: s.statusMsg,
	}
}

// Mid returns the midpoint: the bid/ask average when both sides are
// populated, whichever side exists when only one is, the last trade price
// when the book is empty, and zero with no data at all.
func (s *Session) Mid() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.midLocked()
}

// Spread returns best ask minus best bid, floored at zero, and zero
// whenever either side is empty.
func (s *Session) Spread() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spreadLocked()
}

// Status returns the connection state and its detail message.
func (s *Session) Status() (domain.StreamState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.statusMsg
}

func (s *Session) midLocked() float64 {
	bid, ask := s.book.bestBid(), s.book.bestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask > 0:
		return ask
	}
	if p, ok := s.tape.last(); ok {
		return p.Price
	}
	return 0
}

func (s *Session) spreadLocked() float64 {
	bid, ask := s.book.bestBid(), s.book.bestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	sp := ask - bid
	if sp < 0 {
		return 0
	}
	return sp
}

// Subscribe registers a coalescing change-notification channel: at most
// one signal is pending at a time.
func (s *Session) Subscribe() (int, <-chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Session) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Session) notify() {
	s.subsMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subsMu.Unlock()
}

// ---------------------------------------------------------------------------
// Backfill
// ---------------------------------------------------------------------------

func (s *Session) backfill(epoch uint64, symbol string, tf domain.Timeframe) {
	bars, err := loadHistory(s.ctx, s.src, symbol, tf)
	if err != nil {
		// Degrade to an empty chart; live data may still flow.
		s.log.Warn("backfill failed", "symbol", symbol, "timeframe", tf, "err", err)
		return
	}
	bars = series.Window(bars, tf, time.Now())
	bars = series.Resample(bars, tf)

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.bars = bars
	s.mu.Unlock()
	s.notify()
}

// ---------------------------------------------------------------------------
// Stream lifecycle
// ---------------------------------------------------------------------------

// teardownStreamLocked invalidates the active stream slot. Callers hold mu.
func (s *Session) teardownStreamLocked() {
	s.streamGen++
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
}

func (s *Session) connectStream(symbol string) {
	sctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if s.closed || s.symbol != symbol {
		s.mu.Unlock()
		cancel()
		return
	}
	s.teardownStreamLocked()
	gen := s.streamGen
	s.streamCancel = cancel
	s.mu.Unlock()

	st, err := s.src.Stream(sctx, symbol)

	s.mu.Lock()
	if err != nil {
		if !s.closed && s.streamGen == gen {
			s.setStatusLocked(domain.StreamError, "connect failed: "+err.Error())
			s.streamCancel = nil
		}
		s.mu.Unlock()
		cancel()
		s.notify()
		return
	}
	if s.closed || s.streamGen != gen || s.symbol != symbol {
		// Identity moved on while the dial was in flight: swallow the
		// open and drop the connection without observing any event.
		s.mu.Unlock()
		st.Close()
		cancel()
		return
	}
	s.stream = st
	s.mu.Unlock()

	go s.consume(st, symbol, gen)
}

func (s *Session) consume(st feed.Stream, symbol string, gen uint64) {
	for ev := range st.Events() {
		s.apply(ev, symbol, gen)
	}

	s.mu.Lock()
	if s.streamGen == gen {
		s.stream = nil
		if s.streamCancel != nil {
			s.streamCancel()
			s.streamCancel = nil
		}
		if s.status == domain.StreamOpen || s.status == domain.StreamConnecting {
			s.setStatusLocked(domain.StreamClosed, "stream ended")
		}
	}
	s.mu.Unlock()
	s.notify()
}

// apply dispatches one stream event into the projections. Events from a
// superseded stream generation or for a different symbol are discarded.
func (s *Session) apply(ev feed.Event, symbol string, gen uint64) {
	s.mu.Lock()
	if s.closed || s.streamGen != gen || s.symbol != symbol {
		s.mu.Unlock()
		return
	}

	changed := false
	switch e := ev.(type) {
	case feed.QuoteEvent:
		if e.Symbol == "" || e.Symbol == s.symbol {
			s.book.applyQuote(e, time.Now().UnixMilli())
			changed = true
		}
	case feed.TradeEvent:
		if e.Symbol == "" || e.Symbol == s.symbol {
			ts := e.Time
			if !timeparse.IsValid(ts) {
				ts = time.Now().UnixMilli()
			}
			s.tape.add(e.Price, e.Size, ts)
			if s.tf.Intraday() {
				s.bars = series.ApplyPrint(s.bars, e.Price, e.Size, ts)
			}
			changed = true
		}
	case feed.BarEvent:
		// Bar frames only matter on the intraday view; the longer
		// timeframes render daily aggregates built at backfill time.
		if s.tf.Intraday() && (e.Symbol == "" || e.Symbol == s.symbol) {
			s.bars = series.MergeBar(s.bars, e.Bar)
			changed = true
		}
	case feed.StatusEvent:
		s.setStatusLocked(e.State, e.Message)
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Session) setStatusLocked(state domain.StreamState, msg string) {
	s.status = state
	s.statusMsg = msg
}

// ---------------------------------------------------------------------------
// Book watchdog
// ---------------------------------------------------------------------------

// checkBook polls the REST quote when the push feed has gone quiet for
// too long or a book side is empty.
func (s *Session) checkBook() {
	s.mu.Lock()
	if s.closed || s.symbol == "" || s.pollBusy {
		s.mu.Unlock()
		return
	}
	nowMs := time.Now().UnixMilli()
	fresh := s.book.lastPushMs > 0 && nowMs-s.book.lastPushMs <= quoteStaleAfter.Milliseconds()
	full := len(s.book.bids) > 0 && len(s.book.asks) > 0
	if fresh && full {
		s.mu.Unlock()
		return
	}
	s.pollBusy = true
	epoch := s.epoch
	symbol := s.symbol
	s.mu.Unlock()

	go s.pollQuote(epoch, symbol, nowMs)
}

func (s *Session) pollQuote(epoch uint64, symbol string, issuedMs int64) {
	ctx, cancel := context.WithTimeout(s.ctx, pollTimeout)
	q, err := s.src.Quote(ctx, symbol)
	cancel()

	s.mu.Lock()
	s.pollBusy = false
	if err != nil {
		s.mu.Unlock()
		s.log.Debug("quote poll failed", "symbol", symbol, "err", err)
		return
	}
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.book.lastPushMs >= issuedMs {
		// A push quote landed while the poll was in flight; the push
		// projection is fresher and wins.
		s.mu.Unlock()
		return
	}
	s.book.applyPoll(q)
	s.mu.Unlock()
	s.notify()
}
