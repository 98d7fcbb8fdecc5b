package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
)

type stubStream struct {
	mu     sync.Mutex
	events chan feed.Event
	closed bool
}

func newStubStream() *stubStream {
	return &stubStream{events: make(chan feed.Event, 16)}
}

func (s *stubStream) Events() <-chan feed.Event { return s.events }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubStream) emit(ev feed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

type stubSource struct {
	barsFn   func(ctx context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error)
	quoteFn  func(ctx context.Context, symbol string) (domain.Quote, error)
	streamFn func(ctx context.Context, symbol string) (feed.Stream, error)
}

func (s *stubSource) Bars(ctx context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error) {
	if s.barsFn == nil {
		return nil, nil
	}
	return s.barsFn(ctx, symbol, g, limit)
}

func (s *stubSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.quoteFn == nil {
		return domain.Quote{}, nil
	}
	return s.quoteFn(ctx, symbol)
}

func (s *stubSource) Stream(ctx context.Context, symbol string) (feed.Stream, error) {
	if s.streamFn == nil {
		return newStubStream(), nil
	}
	return s.streamFn(ctx, symbol)
}

var _ feed.Source = (*stubSource)(nil)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// ---------------------------------------------------------------------------

func TestBarsEndpoint(t *testing.T) {
	src := &stubSource{
		barsFn: func(_ context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error) {
			if symbol != "AAPL" {
				t.Errorf("symbol = %q, want AAPL", symbol)
			}
			if g != domain.Gran1Min || limit != 50 {
				t.Errorf("request = %v/%d, want 1Min/50", g, limit)
			}
			return []domain.Bar{
				{Time: 1_700_000_000_000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
				{Time: 1_700_000_060_000, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
			}, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/market/bars?symbol=aapl&timeframe=1Min&limit=50")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var payload feed.BarsPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(payload.Bars))
	}
	if got := payload.Bars[0].Bar().Time; got != 1_700_000_000_000 {
		t.Fatalf("bar time = %d, want 1700000000000", got)
	}
}

func TestBarsValidation(t *testing.T) {
	gw := NewServer(&stubSource{}, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	for _, path := range []string{
		"/api/market/bars",
		"/api/market/bars?symbol=AAPL&timeframe=7Sec",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestBarsUpstreamError(t *testing.T) {
	src := &stubSource{
		barsFn: func(_ context.Context, _ string, _ domain.Granularity, _ int) ([]domain.Bar, error) {
			return nil, errors.New("boom")
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/market/bars?symbol=AAPL")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("missing error message in %v", body)
	}
}

func TestBarsCached(t *testing.T) {
	var calls int32
	src := &stubSource{
		barsFn: func(_ context.Context, _ string, _ domain.Granularity, _ int) ([]domain.Bar, error) {
			atomic.AddInt32(&calls, 1)
			return []domain.Bar{{Time: 1_700_000_000_000, Open: 1, High: 1, Low: 1, Close: 1}}, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	get := func(path string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}

	get("/api/market/bars?symbol=AAPL&timeframe=1Day&limit=30")
	get("/api/market/bars?symbol=AAPL&timeframe=1Day&limit=30")
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("identical request hit upstream %d times, want 1", n)
	}

	get("/api/market/bars?symbol=AAPL&timeframe=1Day&limit=90")
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("different limit reused cache: %d calls, want 2", n)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	src := &stubSource{
		quoteFn: func(_ context.Context, symbol string) (domain.Quote, error) {
			return domain.Quote{
				Symbol: symbol, BidPrice: 100, BidSize: 5,
				AskPrice: 101, AskSize: 7, Time: 1_700_000_000_000,
			}, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/market/quote?symbol=aapl")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var payload feed.QuotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Symbol != "AAPL" {
		t.Fatalf("symbol = %q, want AAPL", payload.Symbol)
	}
	if payload.Mid != 100.5 {
		t.Fatalf("mid = %v, want 100.5", payload.Mid)
	}
}

func TestWSForwardsFrames(t *testing.T) {
	streams := make(chan *stubStream, 1)
	src := &stubSource{
		streamFn: func(_ context.Context, _ string) (feed.Stream, error) {
			st := newStubStream()
			streams <- st
			return st, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv.URL, "/ws/market?symbols=AAPL&channels=trades,quotes,bars&feed=iex"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var st *stubStream
	select {
	case st = <-streams:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream never opened")
	}

	st.emit(feed.QuoteEvent{Symbol: "AAPL", BidPrice: 100, BidSize: 1, AskPrice: 101, AskSize: 2, Time: 1_700_000_000_000})
	st.emit(feed.TradeEvent{Symbol: "AAPL", Price: 100.5, Size: 3, Time: 1_700_000_001_000})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := feed.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	q, ok := ev.(feed.QuoteEvent)
	if !ok {
		t.Fatalf("first frame = %T, want QuoteEvent", ev)
	}
	if q.BidPrice != 100 || q.AskPrice != 101 {
		t.Fatalf("quote = %v/%v, want 100/101", q.BidPrice, q.AskPrice)
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err = feed.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr, ok := ev.(feed.TradeEvent)
	if !ok {
		t.Fatalf("second frame = %T, want TradeEvent", ev)
	}
	if tr.Price != 100.5 {
		t.Fatalf("trade price = %v, want 100.5", tr.Price)
	}
}

func TestWSChannelFilter(t *testing.T) {
	streams := make(chan *stubStream, 1)
	src := &stubSource{
		streamFn: func(_ context.Context, _ string) (feed.Stream, error) {
			st := newStubStream()
			streams <- st
			return st, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv.URL, "/ws/market?symbols=AAPL&channels=trades"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	st := <-streams
	st.emit(feed.QuoteEvent{Symbol: "AAPL", BidPrice: 1, BidSize: 1, AskPrice: 2, AskSize: 1})
	st.emit(feed.TradeEvent{Symbol: "AAPL", Price: 42, Size: 1, Time: 1_700_000_000_000})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ev, err := feed.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tr, ok := ev.(feed.TradeEvent)
	if !ok {
		t.Fatalf("got %T through a trades-only subscription, want TradeEvent", ev)
	}
	if tr.Price != 42 {
		t.Fatalf("trade price = %v, want 42", tr.Price)
	}
}

func TestWSSharedUpstream(t *testing.T) {
	var dials int32
	streams := make(chan *stubStream, 2)
	src := &stubSource{
		streamFn: func(_ context.Context, _ string) (feed.Stream, error) {
			atomic.AddInt32(&dials, 1)
			st := newStubStream()
			streams <- st
			return st, nil
		},
	}
	gw := NewServer(src, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	url := wsURL(srv.URL, "/ws/market?symbols=AAPL")
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	st := <-streams

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, "both clients subscribed", func() bool {
		gw.hub.mu.RLock()
		defer gw.hub.mu.RUnlock()
		up := gw.hub.upstreams["AAPL"]
		return len(gw.hub.clients) == 2 && up != nil && up.refs == 2
	})
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Fatalf("upstream dialed %d times for one symbol, want 1", n)
	}

	first.Close()
	waitFor(t, "first client dropped", func() bool {
		gw.hub.mu.RLock()
		defer gw.hub.mu.RUnlock()
		return len(gw.hub.clients) == 1
	})
	if st.isClosed() {
		t.Fatalf("upstream closed while a subscriber remains")
	}

	second.Close()
	waitFor(t, "upstream released", st.isClosed)
}

func TestWSRequiresSymbols(t *testing.T) {
	gw := NewServer(&stubSource{}, nil)
	defer gw.Close()
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/market"), nil)
	if err == nil {
		t.Fatalf("dial succeeded without symbols")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp = %v, want 400", resp)
	}
}

func TestServerCloseTearsDownClients(t *testing.T) {
	streams := make(chan *stubStream, 1)
	src := &stubSource{
		streamFn: func(_ context.Context, _ string) (feed.Stream, error) {
			st := newStubStream()
			streams <- st
			return st, nil
		},
	}
	gw := NewServer(src, nil)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/market?symbols=AAPL"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	st := <-streams

	gw.Close()
	waitFor(t, "upstream closed", st.isClosed)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
