package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quotedeck/internal/domain"
	"quotedeck/internal/feed"
)

const (
	sendQueueDepth  = 64
	writeTimeout    = 10 * time.Second
	pingInterval    = 45 * time.Second
	pongWait        = 90 * time.Second
	maxInboundBytes = 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// wsClient is one connected stream subscriber.
type wsClient struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closing  sync.Once
	symbols  map[string]bool
	channels map[string]bool
	ups      []*upstream
}

// upstream is one shared Source.Stream fanned out to every client
// subscribed to its symbol. It closes when its refcount drains.
type upstream struct {
	symbol string
	stream feed.Stream
	refs   int
}

// Hub owns the websocket side of the gateway: clients, their per-symbol
// upstream subscriptions, and the fan-out in between. A slow client
// drops frames, never the connection.
type Hub struct {
	src    feed.Source
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	clients   map[string]*wsClient
	upstreams map[string]*upstream
}

func newHub(src feed.Source, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		src:       src,
		log:       log.With("component", "ws-hub"),
		ctx:       ctx,
		cancel:    cancel,
		clients:   make(map[string]*wsClient),
		upstreams: make(map[string]*upstream),
	}
}

// Close tears down every upstream and client connection.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	ups := make([]*upstream, 0, len(h.upstreams))
	for _, up := range h.upstreams {
		ups = append(ups, up)
	}
	clients := make([]*wsClient, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.upstreams = make(map[string]*upstream)
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()

	for _, up := range ups {
		up.stream.Close()
	}
	for _, cl := range clients {
		cl.shutdown()
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	symbols := splitList(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols required")
		return
	}
	channels := splitList(r.URL.Query().Get("channels"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		return
	}

	cl := &wsClient{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, sendQueueDepth),
		done:     make(chan struct{}),
		symbols:  make(map[string]bool, len(symbols)),
		channels: channelFrames(channels),
	}
	for _, sym := range symbols {
		cl.symbols[strings.ToUpper(sym)] = true
	}

	log := h.log.With("client", cl.id, "remote", r.RemoteAddr)
	log.Info("client connected", "symbols", symbols, "channels", channels)

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl.id] = cl
	h.mu.Unlock()

	go cl.writePump()

	for sym := range cl.symbols {
		up, err := h.acquire(sym)
		if err != nil {
			log.Warn("upstream open failed", "symbol", sym, "err", err)
			cl.enqueue(errorFrame("upstream open failed: " + sym))
			continue
		}
		cl.ups = append(cl.ups, up)
	}

	cl.readPump()

	h.dropClient(cl)
	log.Info("client disconnected")
}

// acquire returns the shared upstream for symbol, opening it for the
// first subscriber.
func (h *Hub) acquire(symbol string) (*upstream, error) {
	h.mu.Lock()
	if up, ok := h.upstreams[symbol]; ok {
		up.refs++
		h.mu.Unlock()
		return up, nil
	}
	h.mu.Unlock()

	st, err := h.src.Stream(h.ctx, symbol)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.ctx.Err() != nil {
		// The hub shut down while we dialed.
		h.mu.Unlock()
		st.Close()
		return nil, h.ctx.Err()
	}
	if up, ok := h.upstreams[symbol]; ok {
		// Another subscriber opened it while we dialed; ride theirs.
		up.refs++
		h.mu.Unlock()
		st.Close()
		return up, nil
	}
	up := &upstream{symbol: symbol, stream: st, refs: 1}
	h.upstreams[symbol] = up
	h.mu.Unlock()

	go h.fanout(up)
	return up, nil
}

// release drops one reference; the last one closes the stream.
func (h *Hub) release(up *upstream) {
	h.mu.Lock()
	up.refs--
	last := up.refs <= 0
	if last && h.upstreams[up.symbol] == up {
		delete(h.upstreams, up.symbol)
	}
	h.mu.Unlock()
	if last {
		up.stream.Close()
	}
}

func (h *Hub) dropClient(cl *wsClient) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	h.mu.Unlock()
	for _, up := range cl.ups {
		h.release(up)
	}
	cl.shutdown()
}

// fanout encodes each upstream event once and hands it to every
// subscribed client.
func (h *Hub) fanout(up *upstream) {
	for ev := range up.stream.Events() {
		frameType := frameTypeOf(ev)
		data, err := feed.EncodeFrame(ev)
		if err != nil {
			continue
		}
		h.deliver(up.symbol, frameType, data)
	}

	// The stream died on its own; forget it so the next subscriber
	// opens a fresh one. Remaining holders just saw its terminal
	// status frame.
	h.mu.Lock()
	if cur, ok := h.upstreams[up.symbol]; ok && cur == up {
		delete(h.upstreams, up.symbol)
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(symbol, frameType string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		if !cl.symbols[symbol] || !cl.wants(frameType) {
			continue
		}
		cl.enqueue(data)
	}
}

func frameTypeOf(ev feed.Event) string {
	switch ev.(type) {
	case feed.QuoteEvent:
		return feed.FrameQuote
	case feed.TradeEvent:
		return feed.FrameTrade
	case feed.BarEvent:
		return feed.FrameBar
	default:
		return feed.FrameStatus
	}
}

// channelFrames maps subscription channel names onto the frame types
// they carry. An empty or unrecognized list means everything.
func channelFrames(channels []string) map[string]bool {
	out := make(map[string]bool, len(channels))
	for _, ch := range channels {
		switch strings.ToLower(ch) {
		case feed.ChannelTrades:
			out[feed.FrameTrade] = true
		case feed.ChannelQuotes:
			out[feed.FrameQuote] = true
		case feed.ChannelBars:
			out[feed.FrameBar] = true
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func errorFrame(msg string) []byte {
	data, _ := feed.EncodeFrame(feed.StatusEvent{State: domain.StreamError, Message: msg})
	return data
}

// ---------------------------------------------------------------------------
// Client pumps
// ---------------------------------------------------------------------------

// wants reports whether the client subscribed to frames of this type.
// Status frames always pass.
func (cl *wsClient) wants(frameType string) bool {
	if frameType == feed.FrameStatus || len(cl.channels) == 0 {
		return true
	}
	return cl.channels[frameType]
}

// enqueue hands a frame to the write pump without ever blocking; a full
// queue means the client is too slow and the frame is dropped.
func (cl *wsClient) enqueue(data []byte) {
	select {
	case cl.send <- data:
	default:
	}
}

func (cl *wsClient) writePump() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case data := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.done:
			return
		}
	}
}

// readPump discards inbound traffic; its job is noticing the close.
func (cl *wsClient) readPump() {
	cl.conn.SetReadLimit(maxInboundBytes)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *wsClient) shutdown() {
	cl.closing.Do(func() {
		close(cl.done)
		cl.conn.Close()
	})
}
