package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"fporacle/core/events"
	"fporacle/core/types"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultBacklog    = 256
	subscriberBufSize = 64
)

// StreamEvent is a program event numbered in emission order.
type StreamEvent struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Hub fans emitted events out to websocket subscribers and keeps a short
// backlog so reconnecting clients can resume from a cursor. Slow
// subscribers drop events rather than block emitters.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []StreamEvent
	limit   int
	nextID  int
	subs    map[int]chan StreamEvent
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{limit: backlog, subs: make(map[int]chan StreamEvent)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	typed, ok := evt.(events.Typed)
	if !ok || typed.Evt == nil {
		return
	}
	h.publish(typed.Evt)
}

func (h *Hub) publish(evt *types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	item := StreamEvent{Seq: h.seq, Type: evt.Type, Attributes: attrs}
	h.backlog = append(h.backlog, item)
	if len(h.backlog) > h.limit {
		h.backlog = append([]StreamEvent(nil), h.backlog[len(h.backlog)-h.limit:]...)
	}
	for _, ch := range h.subs {
		select {
		case ch <- item:
		default:
		}
	}
}

// Subscribe registers a listener and returns the retained events after cursor.
func (h *Hub) Subscribe(cursor uint64) (<-chan StreamEvent, func(), []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan StreamEvent, subscriberBufSize)
	h.subs[id] = ch
	var backlog []StreamEvent
	for _, item := range h.backlog {
		if item.Seq > cursor {
			backlog = append(backlog, item)
		}
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, backlog
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64, prefix string) error {
	updates, cancel, backlog := s.hub.Subscribe(cursor)
	defer cancel()

	for _, item := range backlog {
		if !strings.HasPrefix(item.Type, prefix) {
			continue
		}
		if err := writeStreamEvent(ctx, conn, item); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-updates:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(item.Type, prefix) {
				continue
			}
			if err := writeStreamEvent(ctx, conn, item); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, item StreamEvent) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
