package session

import (
	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
)

// bookDepth caps each side of the projected ladder.
const bookDepth = 5

// book projects push quotes into a shallow ladder. lastPushMs tracks when
// the push feed last touched it; REST poll splices deliberately leave it
// alone so a fresher push always outranks a poll.
type book struct {
	bids       []domain.QuoteLevel
	asks       []domain.QuoteLevel
	lastPushMs int64
}

// applyQuote prepends the quote's sides to the ladder. Sides without a
// positive price are left untouched.
func (b *book) applyQuote(ev feed.QuoteEvent, nowMs int64) {
	if ev.BidPrice > 0 {
		b.bids = pushLevel(b.bids, ev.BidPrice, ev.BidSize)
	}
	if ev.AskPrice > 0 {
		b.asks = pushLevel(b.asks, ev.AskPrice, ev.AskSize)
	}
	b.lastPushMs = nowMs
}

// applyPoll replaces the ladder with a single-level snapshot built from a
// REST quote.
func (b *book) applyPoll(q domain.Quote) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	if q.BidPrice > 0 {
		b.bids = append(b.bids, level(q.BidPrice, q.BidSize))
	}
	if q.AskPrice > 0 {
		b.asks = append(b.asks, level(q.AskPrice, q.AskSize))
	}
}

func pushLevel(side []domain.QuoteLevel, price, size float64) []domain.QuoteLevel {
	if len(side) < bookDepth {
		side = append(side, domain.QuoteLevel{})
	}
	copy(side[1:], side)
	side[0] = level(price, size)
	return side
}

func level(price, size float64) domain.QuoteLevel {
	return domain.QuoteLevel{Price: price, Size: size, Total: price * size}
}

// bestBid returns the top bid price, zero when the side is empty.
func (b *book) bestBid() float64 {
	if len(b.bids) == 0 {
		return 0
	}
	return b.bids[0].Price
}

// bestAsk returns the top ask price, zero when the side is empty.
func (b *book) bestAsk() float64 {
	if len(b.asks) == 0 {
		return 0
	}
	return b.asks[0].Price
}

func (b *book) snapshot() domain.OrderBook {
	ob := domain.OrderBook{
		Bids: make([]domain.QuoteLevel, len(b.bids)),
		Asks: make([]domain.QuoteLevel, len(b.asks)),
	}
	copy(ob.Bids, b.bids)
	copy(ob.Asks, b.asks)
	return ob
}

func (b *book) reset() {
	b.bids = nil
	b.asks = nil
	b.lastPushMs = 0
}
