package feed

import (
	"context"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"quotedeck/internal/domain"
	"quotedeck/internal/series"
)

// Compile-time interface check.
var _ Source = (*Sim)(nil)

// Sim is a random-walk Source for offline development and demos. Each
// symbol gets a base price derived from its name, so the same symbol looks
// the same across runs, and history synthesis is deterministic for a given
// symbol and granularity.
type Sim struct {
	mu      sync.Mutex
	walkers map[string]*walker

	quoteEvery time.Duration
	tradeEvery time.Duration
}

// SimOptions tunes the stream cadence, mainly for tests.
type SimOptions struct {
	QuoteEvery time.Duration // default 250ms
	TradeEvery time.Duration // default 400ms
}

// NewSim creates a simulator with the default cadence.
func NewSim() *Sim {
	return NewSimWith(SimOptions{})
}

// NewSimWith creates a simulator with explicit options.
func NewSimWith(opts SimOptions) *Sim {
	if opts.QuoteEvery <= 0 {
		opts.QuoteEvery = 250 * time.Millisecond
	}
	if opts.TradeEvery <= 0 {
		opts.TradeEvery = 400 * time.Millisecond
	}
	return &Sim{
		walkers:    make(map[string]*walker),
		quoteEvery: opts.QuoteEvery,
		tradeEvery: opts.TradeEvery,
	}
}

type walker struct {
	mu    sync.Mutex
	price float64
	rng   *rand.Rand
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func basePrice(symbol string) float64 {
	return 20 + float64(symbolSeed(symbol)%40000)/100.0
}

func (s *Sim) walkerFor(symbol string) *walker {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(symbol)
	w, ok := s.walkers[key]
	if !ok {
		w = &walker{
			price: basePrice(key),
			rng:   rand.New(rand.NewSource(symbolSeed(key))),
		}
		s.walkers[key] = w
	}
	return w
}

// step advances the walk one tick and returns the new price.
func (w *walker) step() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.price *= 1 + (w.rng.Float64()-0.5)*0.002
	if w.price < 0.01 {
		w.price = 0.01
	}
	return w.price
}

func (w *walker) size() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(1 + w.rng.Intn(500))
}

// halfSpread is half the synthetic bid/ask spread at price p.
func halfSpread(p float64) float64 {
	s := p * 0.0002
	if s < 0.005 {
		s = 0.005
	}
	return s
}

func granStep(g domain.Granularity) time.Duration {
	switch g {
	case domain.Gran1Min:
		return time.Minute
	case domain.Gran5Min:
		return 5 * time.Minute
	case domain.Gran15Min:
		return 15 * time.Minute
	case domain.Gran1Hour:
		return time.Hour
	case domain.Gran1Week:
		return 7 * 24 * time.Hour
	case domain.Gran1Month:
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Bars synthesizes limit bars ending at the current bucket, oldest first.
func (s *Sim) Bars(_ context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	step := granStep(g)
	end := time.Now().UTC().Truncate(step)
	start := end.Add(-time.Duration(limit-1) * step)

	rng := rand.New(rand.NewSource(symbolSeed(symbol) ^ int64(step)))
	price := basePrice(symbol)

	bars := make([]domain.Bar, 0, limit)
	for i := 0; i < limit; i++ {
		open := price
		high, low := open, open
		// A few intra-bar moves so high/low separate from open/close.
		for j := 0; j < 4; j++ {
			price *= 1 + (rng.Float64()-0.5)*0.004
			if price < 0.01 {
				price = 0.01
			}
			if price > high {
				high = price
			}
			if price < low {
				low = price
			}
		}
		bars = append(bars, domain.Bar{
			Time:   start.Add(time.Duration(i) * step).UnixMilli(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(1000 + rng.Intn(10000)),
		})
	}
	return bars, nil
}

// Quote advances the walk and returns a quote around the new price.
func (s *Sim) Quote(_ context.Context, symbol string) (domain.Quote, error) {
	w := s.walkerFor(symbol)
	p := w.step()
	hs := halfSpread(p)
	return domain.Quote{
		Symbol:   strings.ToUpper(symbol),
		BidPrice: p - hs,
		BidSize:  w.size(),
		AskPrice: p + hs,
		AskSize:  w.size(),
		Time:     time.Now().UnixMilli(),
	}, nil
}

// Stream emits synthetic quotes and trades at the configured cadence and a
// bar whenever the minute rolls over.
func (s *Sim) Stream(ctx context.Context, symbol string) (Stream, error) {
	st := &simStream{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go st.run(ctx, s, strings.ToUpper(symbol))
	return st, nil
}

type simStream struct {
	events  chan Event
	done    chan struct{}
	closing sync.Once
}

var _ Stream = (*simStream)(nil)

func (st *simStream) Events() <-chan Event { return st.events }

func (st *simStream) Close() error {
	st.closing.Do(func() { close(st.done) })
	return nil
}

func (st *simStream) run(ctx context.Context, s *Sim, symbol string) {
	defer close(st.events)

	w := s.walkerFor(symbol)
	quotes := time.NewTicker(s.quoteEvery)
	trades := time.NewTicker(s.tradeEvery)
	defer quotes.Stop()
	defer trades.Stop()

	st.emit(StatusEvent{State: domain.StreamOpen, Message: "sim stream started"})

	var cur domain.Bar
	haveBar := false
	for {
		select {
		case <-ctx.Done():
			st.emit(StatusEvent{State: domain.StreamClosed, Message: "sim stream stopped"})
			return
		case <-st.done:
			st.emit(StatusEvent{State: domain.StreamClosed, Message: "sim stream stopped"})
			return
		case <-quotes.C:
			p := w.step()
			hs := halfSpread(p)
			now := time.Now().UnixMilli()
			st.emit(QuoteEvent{
				Symbol:   symbol,
				BidPrice: p - hs, BidSize: w.size(),
				AskPrice: p + hs, AskSize: w.size(),
				Time: now,
			})
		case <-trades.C:
			p := w.step()
			now := time.Now().UnixMilli()
			sz := w.size()
			st.emit(TradeEvent{Symbol: symbol, Price: p, Size: sz, Time: now})

			bucket := series.Bucket(now)
			switch {
			case !haveBar:
				cur = domain.Bar{Time: bucket, Open: p, High: p, Low: p, Close: p, Volume: sz}
				haveBar = true
			case bucket > cur.Time:
				st.emit(BarEvent{Symbol: symbol, Bar: cur})
				cur = domain.Bar{Time: bucket, Open: cur.Close, High: p, Low: p, Close: p, Volume: sz}
			default:
				if p > cur.High {
					cur.High = p
				}
				if p < cur.Low {
					cur.Low = p
				}
				cur.Close = p
				cur.Volume += sz
			}
		}
	}
}

func (st *simStream) emit(ev Event) {
	select {
	case st.events <- ev:
	case <-st.done:
	}
}
