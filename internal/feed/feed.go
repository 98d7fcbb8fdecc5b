// Package feed provides market data sources behind a single interface: the
// backend wire protocol client, the upstream data API, and a simulator.
// A Source answers historical and snapshot queries over REST semantics and
// opens a push stream of typed events for one symbol.
package feed

import (
	"context"

	"quotedeck/internal/domain"
)

// Source is a market data provider.
type Source interface {
	// Bars fetches up to limit historical bars for symbol at the given
	// granularity, oldest first. An empty slice is a valid answer.
	Bars(ctx context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error)

	// Quote fetches the latest top-of-book quote for symbol.
	Quote(ctx context.Context, symbol string) (domain.Quote, error)

	// Stream opens the push stream for symbol, subscribed to trades,
	// quotes, and bars. The stream ends when ctx is cancelled, Close is
	// called, or the transport dies; its event channel is closed on the
	// way out.
	Stream(ctx context.Context, symbol string) (Stream, error)
}

// Stream is one live subscription.
type Stream interface {
	// Events returns the stream's event channel. It is closed exactly
	// once, after the last event.
	Events() <-chan Event

	// Close tears the stream down. Safe to call more than once.
	Close() error
}

// Event is one item pushed by a stream. The concrete types below are the
// full set.
type Event interface {
	isEvent()
}

// QuoteEvent is a top-of-book update.
type QuoteEvent struct {
	Symbol   string
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
	Time     int64
}

// TradeEvent is one executed trade print.
type TradeEvent struct {
	Symbol string
	Price  float64
	Size   float64
	Time   int64
}

// BarEvent is a completed or in-progress minute bar pushed by the feed.
type BarEvent struct {
	Symbol string
	Bar    domain.Bar
}

// StatusEvent reports a connection state change, either observed locally
// or relayed from the backend.
type StatusEvent struct {
	State   domain.StreamState
	Message string
}

func (QuoteEvent) isEvent()  {}
func (TradeEvent) isEvent()  {}
func (BarEvent) isEvent()    {}
func (StatusEvent) isEvent() {}
