package session

import "quotedeck/internal/domain"

// tapeDepth caps the trade tape; the oldest print falls off the end.
const tapeDepth = 40

// tape is the newest-first buffer of recent trade prints with aggressor
// side inference.
type tape struct {
	prints []domain.TradePrint
}

// add records a print. The side reads as a sell only when the price sits
// strictly below the previous print's; ties and the first print read as
// buys.
func (t *tape) add(price, size float64, ts int64) {
	side := domain.SideBuy
	if len(t.prints) > 0 && price < t.prints[0].Price {
		side = domain.SideSell
	}

	if len(t.prints) < tapeDepth {
		t.prints = append(t.prints, domain.TradePrint{})
	}
	copy(t.prints[1:], t.prints)
	t.prints[0] = domain.TradePrint{Price: price, Size: size, Time: ts, Side: side}
}

// last returns the most recent print, if any.
func (t *tape) last() (domain.TradePrint, bool) {
	if len(t.prints) == 0 {
		return domain.TradePrint{}, false
	}
	return t.prints[0], true
}

func (t *tape) snapshot() []domain.TradePrint {
	out := make([]domain.TradePrint, len(t.prints))
	copy(out, t.prints)
	return out
}

func (t *tape) reset() {
	t.prints = nil
}
