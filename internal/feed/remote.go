package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quotedeck/internal/domain"
)

// Remote is a Source backed by a quotedeck gateway: REST for bars and
// quotes, WebSocket for the push stream.
type Remote struct {
	base *url.URL
	feed string
	http *http.Client
	log  *slog.Logger
}

var _ Source = (*Remote)(nil)

// RemoteOptions configures a Remote source.
type RemoteOptions struct {
	// BaseURL is the gateway's HTTP root, e.g. "http://127.0.0.1:8950".
	BaseURL string
	// Feed is forwarded as the feed query parameter. Optional.
	Feed string
	// HTTPClient overrides the default 10s-timeout client. Optional.
	HTTPClient *http.Client
}

// NewRemote creates a Remote source.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{
		base: base,
		feed: opts.Feed,
		http: hc,
		log:  slog.Default().With("source", "remote"),
	}, nil
}

// Bars fetches historical bars from the gateway. Bars whose timestamp the
// gateway sent unparseable come back with the invalid sentinel; callers
// validate.
func (r *Remote) Bars(ctx context.Context, symbol string, g domain.Granularity, limit int) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", string(g))
	q.Set("limit", strconv.Itoa(limit))
	if r.feed != "" {
		q.Set("feed", r.feed)
	}

	var payload BarsPayload
	if err := r.getJSON(ctx, "/api/market/bars", q, &payload); err != nil {
		return nil, fmt.Errorf("fetch bars %s %s: %w", symbol, g, err)
	}
	bars := make([]domain.Bar, 0, len(payload.Bars))
	for _, wb := range payload.Bars {
		bars = append(bars, wb.Bar())
	}
	return bars, nil
}

// Quote fetches the latest quote from the gateway.
func (r *Remote) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if r.feed != "" {
		q.Set("feed", r.feed)
	}

	var payload QuotePayload
	if err := r.getJSON(ctx, "/api/market/quote", q, &payload); err != nil {
		return domain.Quote{}, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}
	return payload.Quote(), nil
}

func (r *Remote) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Stream dials the gateway's stream endpoint subscribed to all channels
// for symbol.
func (r *Remote) Stream(ctx context.Context, symbol string) (Stream, error) {
	u := *r.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/market"
	u.RawQuery = StreamQuery([]string{symbol}, AllChannels, r.feed)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream %s: %w", symbol, err)
	}

	s := &remoteStream{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		log:    r.log.With("symbol", symbol),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type remoteStream struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	closing sync.Once
	log     *slog.Logger
}

var _ Stream = (*remoteStream)(nil)

func (s *remoteStream) Events() <-chan Event { return s.events }

// Close performs the close handshake and releases the connection.
func (s *remoteStream) Close() error {
	s.closing.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	return nil
}

func (s *remoteStream) readLoop() {
	defer close(s.events)

	s.emit(StatusEvent{State: domain.StreamOpen, Message: "stream connected"})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				s.emit(StatusEvent{State: domain.StreamClosed, Message: "stream closed"})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.emit(StatusEvent{State: domain.StreamClosed, Message: "stream closed by server"})
				} else {
					s.emit(StatusEvent{State: domain.StreamError, Message: err.Error()})
				}
			}
			s.conn.Close()
			return
		}

		ev, err := DecodeFrame(data)
		if err != nil {
			// Malformed or unknown frames are dropped, never fatal.
			s.log.Debug("dropping frame", "err", err)
			continue
		}
		s.emit(ev)
	}
}

func (s *remoteStream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
