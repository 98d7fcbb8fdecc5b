// Package series contains the pure transforms applied to candle series:
// lookback windowing, calendar-day resampling, and live print aggregation.
package series

import (
	"sort"
	"time"

	"quotedeck/internal/domain"
	"quotedeck/internal/timeparse"
)

// Window trims bars to the timeframe's lookback window ending at now. If
// the cutoff would discard everything, the input is returned unchanged:
// a stale chart reads better than an empty one.
func Window(bars []domain.Bar, tf domain.Timeframe, now time.Time) []domain.Bar {
	if len(bars) == 0 {
		return bars
	}
	cutoff := now.AddDate(0, 0, -tf.WindowDays()).UnixMilli()
	kept := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Time >= cutoff {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return bars
	}
	return kept
}

// Resample folds a series into one bar per UTC calendar day for the long
// timeframes. 1D and 1W series pass through untouched: their backfill
// granularity is already what the chart renders. Bars whose timestamp is
// the invalid sentinel cannot be grouped and are skipped.
func Resample(bars []domain.Bar, tf domain.Timeframe) []domain.Bar {
	switch tf {
	case domain.Timeframe1M, domain.Timeframe3M, domain.Timeframe1Y:
	default:
		return bars
	}

	byDay := make(map[string]int, len(bars))
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !timeparse.IsValid(b.Time) {
			continue
		}
		key := timeparse.DayKey(b.Time)
		i, ok := byDay[key]
		if !ok {
			byDay[key] = len(out)
			out = append(out, b)
			continue
		}
		day := &out[i]
		if b.High > day.High {
			day.High = b.High
		}
		if b.Low < day.Low {
			day.Low = b.Low
		}
		day.Close = b.Close
		day.Volume += b.Volume
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}
