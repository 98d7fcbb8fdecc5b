package feed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"quotedeck/internal/domain"
	"quotedeck/internal/timeparse"
)

// Wire protocol: WebSocket frames are JSON objects discriminated by a
// "type" field; REST payloads are the bars and quote shapes below.
// Subscriptions ride the stream URL query string.

// Frame type discriminators.
const (
	FrameQuote  = "quote"
	FrameTrade  = "trade"
	FrameBar    = "bar"
	FrameStatus = "status"
)

// Stream channels a client may subscribe to.
const (
	ChannelTrades = "trades"
	ChannelQuotes = "quotes"
	ChannelBars   = "bars"
)

// AllChannels lists every stream channel.
var AllChannels = []string{ChannelTrades, ChannelQuotes, ChannelBars}

// Millis is an epoch-milliseconds timestamp that unmarshals tolerantly:
// numeric epochs (seconds or milliseconds by magnitude) and the string
// formats ParseInstant understands all work, and anything else becomes the
// invalid sentinel instead of a decode error.
type Millis int64

// UnmarshalJSON implements json.Unmarshaler. It never returns an error.
func (m *Millis) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = Millis(timeparse.ParseInstant(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*m = Millis(timeparse.FromUnix(f))
		return nil
	}
	*m = Millis(timeparse.Invalid)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(m))
}

// ---------------------------------------------------------------------------
// Stream frames
// ---------------------------------------------------------------------------

type quoteFrame struct {
	Type     string  `json:"type"`
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	Time     Millis  `json:"time"`
}

type tradeFrame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Time   Millis  `json:"time"`
}

type barFrame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Time   Millis  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type statusFrame struct {
	Type    string `json:"type"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// DecodeFrame parses one wire frame into an event. Malformed JSON and
// unknown frame types come back as errors; callers are expected to drop
// those frames and keep reading.
func DecodeFrame(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch head.Type {
	case FrameQuote:
		var f quoteFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode quote frame: %w", err)
		}
		return QuoteEvent{
			Symbol:   f.Symbol,
			BidPrice: f.BidPrice,
			BidSize:  f.BidSize,
			AskPrice: f.AskPrice,
			AskSize:  f.AskSize,
			Time:     int64(f.Time),
		}, nil
	case FrameTrade:
		var f tradeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode trade frame: %w", err)
		}
		return TradeEvent{Symbol: f.Symbol, Price: f.Price, Size: f.Size, Time: int64(f.Time)}, nil
	case FrameBar:
		var f barFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode bar frame: %w", err)
		}
		return BarEvent{
			Symbol: f.Symbol,
			Bar: domain.Bar{
				Time: int64(f.Time), Open: f.Open, High: f.High,
				Low: f.Low, Close: f.Close, Volume: f.Volume,
			},
		}, nil
	case FrameStatus:
		var f statusFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode status frame: %w", err)
		}
		return StatusEvent{State: domain.StreamState(f.State), Message: f.Message}, nil
	}
	return nil, fmt.Errorf("unknown frame type %q", head.Type)
}

// EncodeFrame serializes an event into its wire frame.
func EncodeFrame(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case QuoteEvent:
		return json.Marshal(quoteFrame{
			Type: FrameQuote, Symbol: e.Symbol,
			BidPrice: e.BidPrice, BidSize: e.BidSize,
			AskPrice: e.AskPrice, AskSize: e.AskSize,
			Time: Millis(e.Time),
		})
	case TradeEvent:
		return json.Marshal(tradeFrame{
			Type: FrameTrade, Symbol: e.Symbol,
			Price: e.Price, Size: e.Size, Time: Millis(e.Time),
		})
	case BarEvent:
		return json.Marshal(barFrame{
			Type: FrameBar, Symbol: e.Symbol, Time: Millis(e.Bar.Time),
			Open: e.Bar.Open, High: e.Bar.High, Low: e.Bar.Low,
			Close: e.Bar.Close, Volume: e.Bar.Volume,
		})
	case StatusEvent:
		return json.Marshal(statusFrame{Type: FrameStatus, State: string(e.State), Message: e.Message})
	}
	return nil, fmt.Errorf("unsupported event %T", ev)
}

// ---------------------------------------------------------------------------
// REST payloads
// ---------------------------------------------------------------------------

// WireBar is one bar on the REST bars payload. Timestamps travel as
// strings and are parsed tolerantly on the way in; an unparseable one
// yields the invalid sentinel, to be filtered by backfill validation.
type WireBar struct {
	T string  `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// Bar converts the wire shape into the domain shape.
func (w WireBar) Bar() domain.Bar {
	return domain.Bar{
		Time: timeparse.ParseInstant(w.T),
		Open: w.O, High: w.H, Low: w.L, Close: w.C, Volume: w.V,
	}
}

// NewWireBar converts a domain bar into its wire shape.
func NewWireBar(b domain.Bar) WireBar {
	return WireBar{
		T: time.UnixMilli(b.Time).UTC().Format(time.RFC3339Nano),
		O: b.Open, H: b.High, L: b.Low, C: b.Close, V: b.Volume,
	}
}

// BarsPayload is the REST bars response body.
type BarsPayload struct {
	Bars []WireBar `json:"bars"`
}

// QuotePayload is the REST quote response body. Mid is precomputed for
// clients that render it directly.
type QuotePayload struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bid_price"`
	BidSize  float64 `json:"bid_size"`
	AskPrice float64 `json:"ask_price"`
	AskSize  float64 `json:"ask_size"`
	Mid      float64 `json:"mid"`
	Time     Millis  `json:"time"`
}

// Quote converts the wire shape into the domain shape.
func (p QuotePayload) Quote() domain.Quote {
	return domain.Quote{
		Symbol:   p.Symbol,
		BidPrice: p.BidPrice, BidSize: p.BidSize,
		AskPrice: p.AskPrice, AskSize: p.AskSize,
		Time: int64(p.Time),
	}
}

// NewQuotePayload converts a domain quote into its wire shape.
func NewQuotePayload(q domain.Quote) QuotePayload {
	return QuotePayload{
		Symbol:   q.Symbol,
		BidPrice: q.BidPrice, BidSize: q.BidSize,
		AskPrice: q.AskPrice, AskSize: q.AskSize,
		Mid:  q.Mid(),
		Time: Millis(q.Time),
	}
}

// StreamQuery builds the subscription query string for the stream
// endpoint.
func StreamQuery(symbols, channels []string, feedTag string) string {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	if len(channels) > 0 {
		q.Set("channels", strings.Join(channels, ","))
	}
	if feedTag != "" {
		q.Set("feed", feedTag)
	}
	return q.Encode()
}
