package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"golang.org/x/time/rate"

	"quotedeck/internal/domain"
)

// Alpaca is a Source backed by the Alpaca Market Data API: historical REST
// v2 for bars and quotes, the stocks stream for pushes. REST calls share a
// token-bucket limiter so backfill bursts stay inside the account quota.
type Alpaca struct {
	md      *marketdata.Client
	feed    string
	key     string
	secret  string
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ Source = (*Alpaca)(nil)

// AlpacaOptions configures an Alpaca source.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	// Feed selects the data feed, e.g. "iex" or "sip". Defaults to "iex".
	Feed string
	// RateLimitPerMin caps REST calls per minute. Defaults to 200.
	RateLimitPerMin int
}

// NewAlpaca creates an Alpaca source.
func NewAlpaca(opts AlpacaOptions) *Alpaca {
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	return &Alpaca{
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
		}),
		feed:    opts.Feed,
		key:     opts.APIKey,
		secret:  opts.APISecret,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RateLimitPerMin)/60.0), 5),
		log:     slog.Default().With("source", "alpaca"),
	}
}

// granTimeFrame maps an interval token to the API's bar timeframe.
func granTimeFrame(g domain.Granularity) (marketdata.TimeFrame, error) {
	switch g {
	case domain.Gran1Min:
		return marketdata.OneMin, nil
	case domain.Gran5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.Gran15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.Gran1Hour:
		return marketdata.OneHour, nil
	case domain.Gran1Day:
		return marketdata.OneDay, nil
	case domain.Gran1Week:
		return marketdata.OneWeek, nil
	case domain.Gran1Month:
		return marketdata.OneMonth, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported granularity %q", g)
}

// granLookback estimates how far back a request must start to cover limit
// bars, padded for closed-market hours and weekends.
func granLookback(g domain.Granularity, limit int) time.Duration {
	var per time.Duration
	pad := 2
	switch g {
	case domain.Gran1Min:
		per, pad = time.Minute, 8
	case domain.Gran5Min:
		per, pad = 5*time.Minute, 8
	case domain.Gran15Min:
		per, pad = 15*time.Minute, 8
	case domain.Gran1Hour:
		per, pad = time.Hour, 6
	case domain.Gran1Day:
		per = 24 * time.Hour
	case domain.Gran1Week:
		per = 7 * 24 * time.Hour
	case domain.Gran1Month:
		per = 31 * 24 * time.Hour
	default:
		per = 24 * time.Hour
	}
	d := time.Duration(limit*pad) * per
	if d < 5*24*time.Hour {
		d = 5 * 24 * time.Hour
	}
	return d
}

// Bars fetches the most recent limit bars, oldest first.
func (a *Alpaca) Bars(ctx context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error) {
	tf, err := granTimeFrame(g)
	if err != nil {
		return nil, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := a.md.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     time.Now().Add(-granLookback(g, limit)),
		Feed:      marketdata.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s %s: %w", symbol, g, err)
	}

	if len(raw) > limit {
		raw = raw[len(raw)-limit:]
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Time:   b.Timestamp.UnixMilli(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return bars, nil
}

// Quote fetches the latest top-of-book quote.
func (a *Alpaca) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, err
	}
	q, err := a.md.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{
		Feed: marketdata.Feed(a.feed),
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("GetLatestQuote %s: %w", symbol, err)
	}
	return domain.Quote{
		Symbol:   symbol,
		BidPrice: q.BidPrice,
		BidSize:  float64(q.BidSize),
		AskPrice: q.AskPrice,
		AskSize:  float64(q.AskSize),
		Time:     q.Timestamp.UnixMilli(),
	}, nil
}

// Stream connects a stocks stream subscribed to trades, quotes, and bars
// for symbol.
func (a *Alpaca) Stream(ctx context.Context, symbol string) (Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	sc := stream.NewStocksClient(marketdata.Feed(a.feed),
		stream.WithCredentials(a.key, a.secret),
	)
	if err := sc.Connect(sctx); err != nil {
		cancel()
		return nil, fmt.Errorf("connect stream: %w", err)
	}

	s := &alpacaStream{
		cancel: cancel,
		raw:    make(chan Event, 256),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		log:    a.log.With("symbol", symbol),
	}

	err := sc.SubscribeToTrades(func(t stream.Trade) {
		s.emit(TradeEvent{
			Symbol: t.Symbol,
			Price:  t.Price,
			Size:   float64(t.Size),
			Time:   t.Timestamp.UnixMilli(),
		})
	}, symbol)
	if err == nil {
		err = sc.SubscribeToQuotes(func(q stream.Quote) {
			s.emit(QuoteEvent{
				Symbol:   q.Symbol,
				BidPrice: q.BidPrice,
				BidSize:  float64(q.BidSize),
				AskPrice: q.AskPrice,
				AskSize:  float64(q.AskSize),
				Time:     q.Timestamp.UnixMilli(),
			})
		}, symbol)
	}
	if err == nil {
		err = sc.SubscribeToBars(func(b stream.Bar) {
			s.emit(BarEvent{
				Symbol: b.Symbol,
				Bar: domain.Bar{
					Time:   b.Timestamp.UnixMilli(),
					Open:   b.Open,
					High:   b.High,
					Low:    b.Low,
					Close:  b.Close,
					Volume: float64(b.Volume),
				},
			})
		}, symbol)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	s.emit(StatusEvent{State: domain.StreamOpen, Message: "upstream stream connected"})
	go s.pump(sc.Terminated())
	return s, nil
}

type alpacaStream struct {
	cancel context.CancelFunc
	// raw receives from SDK callbacks and is never closed, so a late
	// callback can never hit a closed channel.
	raw     chan Event
	events  chan Event
	done    chan struct{}
	closing sync.Once
	log     *slog.Logger
}

var _ Stream = (*alpacaStream)(nil)

func (s *alpacaStream) Events() <-chan Event { return s.events }

func (s *alpacaStream) Close() error {
	s.closing.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}

// emit delivers without blocking the SDK's callback goroutine; under
// backpressure the event is dropped.
func (s *alpacaStream) emit(ev Event) {
	select {
	case s.raw <- ev:
	default:
		s.log.Debug("event dropped, consumer behind")
	}
}

// pump moves events from the callback side to the consumer side and owns
// closing the consumer channel.
func (s *alpacaStream) pump(terminated <-chan error) {
	defer close(s.events)
	for {
		select {
		case ev := <-s.raw:
			select {
			case s.events <- ev:
			case <-s.done:
				s.deliverFinal(StatusEvent{State: domain.StreamClosed, Message: "upstream stream closed"})
				return
			}
		case err := <-terminated:
			final := StatusEvent{State: domain.StreamClosed, Message: "upstream stream ended"}
			select {
			case <-s.done:
			default:
				if err != nil {
					final = StatusEvent{State: domain.StreamError, Message: err.Error()}
				}
			}
			s.deliverFinal(final)
			return
		case <-s.done:
			s.deliverFinal(StatusEvent{State: domain.StreamClosed, Message: "upstream stream closed"})
			return
		}
	}
}

func (s *alpacaStream) deliverFinal(ev StatusEvent) {
	select {
	case s.events <- ev:
	default:
	}
}
