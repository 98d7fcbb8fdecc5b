package session

import (
	"context"
	"math"
	"sort"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
	"quotedeck/internal/timeparse"
)

// tier is one backfill request plan.
type tier struct {
	gran  domain.Granularity
	limit int
}

// backfillPlans maps each timeframe to its request ladder. The first tier
// is the view's native resolution; the fallbacks widen coverage and
// coarsen resolution for sleepy symbols whose native tier comes back
// too thin.
var backfillPlans = map[domain.Timeframe][]tier{
	domain.Timeframe1D: {{domain.Gran1Min, 390}, {domain.Gran5Min, 200}, {domain.Gran1Day, 30}},
	domain.Timeframe1W: {{domain.Gran1Hour, 168}, {domain.Gran1Day, 30}, {domain.Gran1Day, 90}},
	domain.Timeframe1M: {{domain.Gran1Day, 30}, {domain.Gran1Day, 90}, {domain.Gran1Week, 52}},
	domain.Timeframe3M: {{domain.Gran1Day, 90}, {domain.Gran1Day, 365}, {domain.Gran1Week, 52}},
	domain.Timeframe1Y: {{domain.Gran1Day, 365}, {domain.Gran1Week, 104}, {domain.Gran1Month, 24}},
}

// minUsableBars is the escalation threshold: fewer than two bars cannot
// seed gapless aggregation or draw a range, so the next tier is tried.
const minUsableBars = 2

// loadHistory fetches the historical series for symbol at tf, escalating
// through the fallback tiers while a tier yields fewer than two usable
// bars. Transport errors count as empty tiers; an error surfaces only
// when every tier failed outright. The best result seen is returned even
// when it stays under the threshold, sorted ascending.
func loadHistory(ctx context.Context, src feed.Source, symbol string, tf domain.Timeframe) ([]domain.Bar, error) {
	plan := backfillPlans[tf]
	var (
		best    []domain.Bar
		lastErr error
		fetched bool
	)
	for _, t := range plan {
		raw, err := src.Bars(ctx, symbol, t.gran, t.limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		fetched = true
		bars := cleanBars(raw)
		if len(bars) >= minUsableBars {
			return bars, nil
		}
		if len(bars) > len(best) {
			best = bars
		}
	}
	if !fetched && lastErr != nil {
		return nil, lastErr
	}
	return best, nil
}

// cleanBars drops bars that fail validation (unparseable timestamp or a
// non-finite price) and sorts the survivors ascending by time.
func cleanBars(raw []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		if !timeparse.IsValid(b.Time) {
			continue
		}
		if !finite(b.Open) || !finite(b.High) || !finite(b.Low) || !finite(b.Close) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
