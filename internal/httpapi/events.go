package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seamarks/helmsman/internal/audit"
)

// eventsHandler serves the audit event stream over SSE and websocket.
type eventsHandler struct {
	hub    *audit.Hub
	logger *zap.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Single-operator deployment behind a trusted proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

func kindFilter(r *http.Request) map[string]struct{} {
	filter := map[string]struct{}{}
	if s := r.URL.Query().Get("kinds"); s != "" {
		for _, k := range strings.Split(s, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				filter[k] = struct{}{}
			}
		}
	}
	return filter
}

func wants(filter map[string]struct{}, kind string) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[kind]
	return ok
}

func lastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// handleSSE streams audit events via Server-Sent Events.
// GET /events/sse?kinds=tool_invocation,workflow_transition&last_event_id=N
func (h *eventsHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	filter := kindFilter(r)
	lastID := lastEventID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.hub.Subscribe(256)
	defer h.hub.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	// Replay backlog since lastID (best-effort)
	if lastID > 0 {
		for _, evt := range h.hub.ReplaySince(lastID) {
			if !wants(filter, evt.Kind) {
				continue
			}
			writeSSE(w, evt)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected")
			return
		case evt := <-ch:
			if !wants(filter, evt.Kind) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			// Keep connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt audit.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Kind != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Kind)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
}

// handleWS streams the same events over a websocket.
// GET /events/ws?kinds=...&last_event_id=N
func (h *eventsHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := kindFilter(r)
	lastID := lastEventID(r)

	ch := h.hub.Subscribe(256)
	defer h.hub.Unsubscribe(ch)

	if lastID > 0 {
		for _, evt := range h.hub.ReplaySince(lastID) {
			if !wants(filter, evt.Kind) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	// Reader pump (discard client messages)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if !wants(filter, evt.Kind) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
