// Package domain holds the market data types shared across quotedeck.
// All timestamps are epoch milliseconds UTC unless a field says otherwise.
package domain

// Timeframe is the chart range selected by a viewer.
type Timeframe string

const (
	Timeframe1D Timeframe = "1D"
	Timeframe1W Timeframe = "1W"
	Timeframe1M Timeframe = "1M"
	Timeframe3M Timeframe = "3M"
	Timeframe1Y Timeframe = "1Y"
)

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1D, Timeframe1W, Timeframe1M, Timeframe3M, Timeframe1Y:
		return true
	}
	return false
}

// Intraday reports whether tf renders sub-daily bars. Only the 1D view
// aggregates live prints into its series.
func (tf Timeframe) Intraday() bool {
	return tf == Timeframe1D
}

// WindowDays is the lookback window applied to a backfilled series.
func (tf Timeframe) WindowDays() int {
	switch tf {
	case Timeframe1D:
		return 1
	case Timeframe1W:
		return 7
	case Timeframe1M:
		return 30
	case Timeframe3M:
		return 90
	case Timeframe1Y:
		return 365
	}
	return 1
}

// Granularity is a backend bar interval token. The values match the
// upstream data API's timeframe strings so they pass through requests
// unchanged.
type Granularity string

const (
	Gran1Min   Granularity = "1Min"
	Gran5Min   Granularity = "5Min"
	Gran15Min  Granularity = "15Min"
	Gran1Hour  Granularity = "1Hour"
	Gran1Day   Granularity = "1Day"
	Gran1Week  Granularity = "1Week"
	Gran1Month Granularity = "1Month"
)

// Valid reports whether g is a known interval token.
func (g Granularity) Valid() bool {
	switch g {
	case Gran1Min, Gran5Min, Gran15Min, Gran1Hour, Gran1Day, Gran1Week, Gran1Month:
		return true
	}
	return false
}

// Bar is one OHLCV candle. Time is the bucket start.
type Bar struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol   string
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
	Time     int64
}

// Mid returns the midpoint of the quote: the average when both sides are
// present, the populated side's price when only one is, zero otherwise.
func (q Quote) Mid() float64 {
	switch {
	case q.BidPrice > 0 && q.AskPrice > 0:
		return (q.BidPrice + q.AskPrice) / 2
	case q.BidPrice > 0:
		return q.BidPrice
	case q.AskPrice > 0:
		return q.AskPrice
	}
	return 0
}

// Side is the inferred aggressor side of a trade print.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradePrint is one entry on the trade tape.
type TradePrint struct {
	Price float64
	Size  float64
	Time  int64
	Side  Side
}

// QuoteLevel is one price level of the order book ladder.
type QuoteLevel struct {
	Price float64
	Size  float64
	Total float64
}

// OrderBook is the projected ladder, best prices first, at most five
// levels per side.
type OrderBook struct {
	Bids []QuoteLevel
	Asks []QuoteLevel
}

// StreamState describes the push stream connection.
type StreamState string

const (
	StreamConnecting StreamState = "connecting"
	StreamOpen       StreamState = "open"
	StreamClosed     StreamState = "closed"
	StreamError      StreamState = "error"
)
