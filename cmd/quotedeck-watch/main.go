// Command quotedeck-watch is a terminal dashboard for a single symbol: a
// candlestick chart with live minute bars, the order book ladder, and the
// trade tape, driven by a market session against a quotedeck gateway or the
// built-in simulator.
//
// Usage:
//
//	quotedeck-watch [-url http://127.0.0.1:8950] [-symbol AAPL] [-tf 1D] [-feed iex] [-sim]
//
// Keys: q quits, 1-5 select the range (1D 1W 1M 3M 1Y), s edits the symbol.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
	"quotedeck/internal/session"
	"quotedeck/internal/util"
)

func main() {
	urlFlag := flag.String("url", "http://127.0.0.1:8950", "quotedeck gateway base URL")
	symbolFlag := flag.String("symbol", "AAPL", "symbol to watch")
	tfFlag := flag.String("tf", "1D", "timeframe: 1D 1W 1M 3M 1Y")
	feedFlag := flag.String("feed", "iex", "upstream feed tag")
	simFlag := flag.Bool("sim", false, "use the built-in simulator instead of a gateway")
	flag.Parse()

	tf := domain.Timeframe(strings.ToUpper(*tfFlag))
	if !tf.Valid() {
		fmt.Fprintf(os.Stderr, "unknown timeframe %q (want 1D, 1W, 1M, 3M, or 1Y)\n", *tfFlag)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a rotating file.
	logger := util.NewFileLogger("info", util.FileOptions{
		Path:      "/tmp/quotedeck-watch.log",
		MaxSizeMB: 10,
	})
	util.SetDefault(logger)

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

	sess := session.New(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	if err := sess.Switch(*symbolFlag, tf); err != nil {
		fmt.Fprintf(os.Stderr, "switch: %v\n", err)
		os.Exit(1)
	}

	id, updates := sess.Subscribe()
	defer sess.Unsubscribe(id)

	p := tea.NewProgram(
		newModel(sess, updates, cancel, logger),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sess.Close()
}
