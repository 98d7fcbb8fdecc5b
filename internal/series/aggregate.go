package series

import (
	"quotedeck/internal/domain"
	"quotedeck/internal/timeparse"
)

const minuteMillis = 60_000

// Bucket floors an instant to the start of its minute.
func Bucket(ms int64) int64 {
	return ms - ms%minuteMillis
}

// ApplyPrint folds a live trade print into a minute-bar series, in place,
// and returns the slice (append may reallocate it).
//
// A print in the open bar's minute extends it. A print in a newer minute
// starts a bar whose open is the previous close, so consecutive candles
// join without gaps. A late print from an already-closed minute is merged
// into the open bar rather than splicing history, which keeps bar times
// strictly increasing.
func ApplyPrint(bars []domain.Bar, price, size float64, ts int64) []domain.Bar {
	if !timeparse.IsValid(ts) {
		return bars
	}
	bucket := Bucket(ts)

	if len(bars) == 0 {
		return append(bars, domain.Bar{
			Time: bucket, Open: price, High: price, Low: price, Close: price, Volume: size,
		})
	}

	last := &bars[len(bars)-1]
	if bucket > last.Time {
		return append(bars, domain.Bar{
			Time: bucket, Open: last.Close, High: price, Low: price, Close: price, Volume: size,
		})
	}
	if price > last.High {
		last.High = price
	}
	if price < last.Low {
		last.Low = price
	}
	last.Close = price
	last.Volume += size
	return bars
}

// MergeBar folds a feed-aggregated bar into the series: it replaces the
// open bar when the buckets match, appends when newer, and ignores bars
// older than the open one or carrying an invalid timestamp.
func MergeBar(bars []domain.Bar, b domain.Bar) []domain.Bar {
	if !timeparse.IsValid(b.Time) {
		return bars
	}
	if len(bars) == 0 {
		return append(bars, b)
	}
	last := len(bars) - 1
	switch {
	case b.Time == bars[last].Time:
		bars[last] = b
	case b.Time > bars[last].Time:
		bars = append(bars, b)
	}
	return bars
}
