// One-shot tool: fetch recent bars for one or more symbols from a quotedeck
// gateway (or the simulator) and print them, plus the latest quote. Handy
// for eyeballing what a session would backfill.
//
// Usage:
//
//	go run cmd/quotedeck-bars/main.go [-gran 1Day] [-limit 10] [-url http://127.0.0.1:8950] [-sim] AAPL [MSFT ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
	"quotedeck/internal/util"
)

func main() {
	granFlag := flag.String("gran", "1Day", "bar interval: 1Min 5Min 15Min 1Hour 1Day 1Week 1Month")
	limitFlag := flag.Int("limit", 10, "bars per symbol")
	urlFlag := flag.String("url", "http://127.0.0.1:8950", "quotedeck gateway base URL")
	feedFlag := flag.String("feed", "iex", "upstream feed tag")
	simFlag := flag.Bool("sim", false, "use the built-in simulator instead of a gateway")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: quotedeck-bars [flags] SYMBOL [SYMBOL...]")
		os.Exit(1)
	}

	gran := domain.Granularity(*granFlag)
	if !gran.Valid() {
		fmt.Fprintf(os.Stderr, "unknown interval %q\n", *granFlag)
		os.Exit(1)
	}

	var src feed.Source
	if *simFlag {
		src = feed.NewSim()
	} else {
		remote, err := feed.NewRemote(feed.RemoteOptions{
			BaseURL: *urlFlag,
			Feed:    *feedFlag,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "gateway url: %v\n", err)
			os.Exit(1)
		}
		src = remote
	}

	ctx := context.Background()
	limiter := util.NewRateLimiter(60)

	for _, arg := range flag.Args() {
		sym := strings.ToUpper(arg)
		if err := limiter.Wait(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "rate limiter: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("=== %s  %s x %d ===\n", sym, gran, *limitFlag)

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var ferr error
			bars, ferr = src.Bars(ctx, sym, gran, *limitFlag)
			return ferr
		})
		if err != nil {
			fmt.Printf("  bars: %v\n\n", err)
			continue
		}

		fmt.Printf("  %-20s %10s %10s %10s %10s %12s\n", "time", "open", "high", "low", "close", "volume")
		for _, b := range bars {
			fmt.Printf("  %-20s %10.2f %10.2f %10.2f %10.2f %12.0f\n",
				time.UnixMilli(b.Time).UTC().Format("2006-01-02 15:04"),
				b.Open, b.High, b.Low, b.Close, b.Volume)
		}

		q, err := src.Quote(ctx, sym)
		if err != nil {
			fmt.Printf("  quote: %v\n\n", err)
			continue
		}
		fmt.Printf("  quote: bid %.2f x %.0f  ask %.2f x %.0f  mid %.2f\n\n",
			q.BidPrice, q.BidSize, q.AskPrice, q.AskSize, q.Mid())
	}
}
