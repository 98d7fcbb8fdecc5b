package session

import (
	"testing"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
)

func TestBookDepthCap(t *testing.T) {
	var b book
	for i := 1; i <= bookDepth+2; i++ {
		b.applyQuote(feed.QuoteEvent{
			BidPrice: float64(100 + i), BidSize: 1,
			AskPrice: float64(200 + i), AskSize: 1,
		}, int64(i))
	}

	if len(b.bids) != bookDepth || len(b.asks) != bookDepth {
		t.Fatalf("depth = %d/%d, want %d", len(b.bids), len(b.asks), bookDepth)
	}
	// Newest quote sits on top, older ones shift down.
	if b.bids[0].Price != float64(100+bookDepth+2) {
		t.Fatalf("top bid = %v, want %v", b.bids[0].Price, float64(100+bookDepth+2))
	}
	if b.bids[1].Price != float64(100+bookDepth+1) {
		t.Fatalf("second bid = %v, want %v", b.bids[1].Price, float64(100+bookDepth+1))
	}
	if b.lastPushMs != int64(bookDepth+2) {
		t.Fatalf("lastPushMs = %d, want %d", b.lastPushMs, bookDepth+2)
	}
}

func TestBookOneSidedQuote(t *testing.T) {
	var b book
	b.applyQuote(feed.QuoteEvent{BidPrice: 100, BidSize: 5}, 1)
	b.applyQuote(feed.QuoteEvent{BidPrice: 101, BidSize: 3}, 2)

	if len(b.bids) != 2 || len(b.asks) != 0 {
		t.Fatalf("sides = %d/%d, want 2/0", len(b.bids), len(b.asks))
	}
	if b.bestBid() != 101 {
		t.Fatalf("bestBid = %v, want 101", b.bestBid())
	}
	if b.bestAsk() != 0 {
		t.Fatalf("bestAsk = %v, want 0", b.bestAsk())
	}
}

func TestBookLevelTotal(t *testing.T) {
	var b book
	b.applyQuote(feed.QuoteEvent{BidPrice: 10, BidSize: 4, AskPrice: 11, AskSize: 2}, 1)

	if b.bids[0].Total != 40 {
		t.Fatalf("bid total = %v, want 40", b.bids[0].Total)
	}
	if b.asks[0].Total != 22 {
		t.Fatalf("ask total = %v, want 22", b.asks[0].Total)
	}
}

func TestBookPollSplice(t *testing.T) {
	var b book
	for i := 1; i <= 4; i++ {
		b.applyQuote(feed.QuoteEvent{
			BidPrice: float64(i), BidSize: 1,
			AskPrice: float64(10 + i), AskSize: 1,
		}, int64(i))
	}

	b.applyPoll(domain.Quote{BidPrice: 50, BidSize: 5, AskPrice: 51, AskSize: 7})

	if len(b.bids) != 1 || len(b.asks) != 1 {
		t.Fatalf("poll splice depth = %d/%d, want 1/1", len(b.bids), len(b.asks))
	}
	if b.bids[0].Price != 50 || b.asks[0].Price != 51 {
		t.Fatalf("poll splice = %v/%v, want 50/51", b.bids[0].Price, b.asks[0].Price)
	}
	if b.lastPushMs != 4 {
		t.Fatalf("poll touched push freshness: %d", b.lastPushMs)
	}
}

func TestBookPollWithEmptySide(t *testing.T) {
	var b book
	b.applyQuote(feed.QuoteEvent{BidPrice: 1, BidSize: 1, AskPrice: 2, AskSize: 1}, 1)
	b.applyPoll(domain.Quote{AskPrice: 9, AskSize: 1})

	if len(b.bids) != 0 {
		t.Fatalf("poll kept stale bids: %d", len(b.bids))
	}
	if len(b.asks) != 1 || b.asks[0].Price != 9 {
		t.Fatalf("asks = %v, want single level at 9", b.asks)
	}
}

func TestBookSnapshotIsCopy(t *testing.T) {
	var b book
	b.applyQuote(feed.QuoteEvent{BidPrice: 10, BidSize: 1, AskPrice: 11, AskSize: 1}, 1)

	snap := b.snapshot()
	snap.Bids[0].Price = 999
	if b.bids[0].Price != 10 {
		t.Fatalf("snapshot aliased the live ladder")
	}
}

func TestBookReset(t *testing.T) {
	var b book
	b.applyQuote(feed.QuoteEvent{BidPrice: 10, BidSize: 1, AskPrice: 11, AskSize: 1}, 5)
	b.reset()

	if len(b.bids) != 0 || len(b.asks) != 0 || b.lastPushMs != 0 {
		t.Fatalf("reset left state behind: %v/%v/%d", b.bids, b.asks, b.lastPushMs)
	}
}
