// Package stream fans engine steps out to WebSocket clients.
package stream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trading-simv1/internal/backtest"
)

const (
	replayCapacity = 500 // envelopes kept per channel
	sendBuffer     = 256 // queued envelopes per client
)

// Hub manages WebSocket clients. Every message is wrapped in an envelope
//
//	{"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":M}
//
// where seq is global and channel_seq lets clients detect gaps per channel.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*client]bool
	latest      map[string]json.RawMessage
	seq         int64
	channelSeqs map[string]int64
	replay      map[string]*ReplayBuffer

	// Callbacks (optional, for metrics)
	OnDrop    func()      // a client's send queue was full
	OnClients func(n int) // connected client count changed
}

// NewHub creates a Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:     make(map[*client]bool),
		latest:      make(map[string]json.RawMessage),
		channelSeqs: make(map[string]int64),
		replay:      make(map[string]*ReplayBuffer),
	}
}

// Channel names for a symbol.
func SignalChannel(symbol string) string   { return "signal:" + symbol }
func TradeChannel(symbol string) string    { return "trade:" + symbol }
func SnapshotChannel(symbol string) string { return "snapshot:" + symbol }

type snapshotPayload struct {
	backtest.Step
	TS time.Time `json:"ts"`
}

// OnStep broadcasts the step's signal, its trade events and the step
// itself. Hub satisfies backtest.Observer.
func (h *Hub) OnStep(s backtest.Step) {
	if s.Signal != nil {
		if b, err := json.Marshal(s.Signal); err == nil {
			h.Broadcast(SignalChannel(s.Symbol), b)
		}
	}
	for i := range s.Events {
		h.Broadcast(TradeChannel(s.Symbol), s.Events[i].JSON())
	}
	b, err := json.Marshal(snapshotPayload{Step: s, TS: s.Candle.OpenTime})
	if err != nil {
		h.log.Warn("marshal step", zap.Error(err))
		return
	}
	h.Broadcast(SnapshotChannel(s.Symbol), b)
}

// Broadcast sends data on channel to all clients subscribed to it.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	h.channelSeqs[channel]++
	seq, channelSeq := h.seq, h.channelSeqs[channel]
	h.latest[channel] = append(json.RawMessage(nil), data...)
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(replayCapacity)
		h.replay[channel] = rb
	}
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')

	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(channel) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket. The optional "symbols"
// query parameter (comma separated) restricts the channels delivered.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		symbols: parseSymbols(r.URL.Query().Get("symbols")),
	}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", zap.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", zap.Int("clients", count))
	if h.OnClients != nil {
		h.OnClients(count)
	}
}

// Latest returns the last payload of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v
	}
	return cp
}

// Replay returns buffered envelopes for channel with channel_seq in
// [fromSeq, toSeq], for client gap backfill.
func (h *Hub) Replay(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.removeClient(c)
	}
}

func parseSymbols(q string) map[string]bool {
	if q == "" {
		return nil
	}
	out := map[string]bool{}
	for _, s := range strings.Split(q, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = true
		}
	}
	return out
}
