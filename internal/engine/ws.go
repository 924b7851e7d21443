package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures the realtime websocket client.
type WSConfig struct {
	BaseURL     string
	APIKey      string
	AssistantID string
}

// WSEngine talks to the voice engine over its realtime websocket. One
// instance handles one call at a time; Start dials a fresh connection
// and Stop tears it down from any state.
type WSEngine struct {
	cfg WSConfig
	log *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	events  chan Event
	writeMu sync.Mutex
}

func NewWSEngine(cfg WSConfig, log *zap.Logger) (*WSEngine, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("engine base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("engine API key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSEngine{cfg: cfg, log: log, events: make(chan Event, 64)}, nil
}

func (e *WSEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return errors.New("engine already started")
	}

	u, err := url.Parse(strings.TrimRight(e.cfg.BaseURL, "/") + "/call/web/realtime")
	if err != nil {
		return fmt.Errorf("parse engine url: %w", err)
	}
	if e.cfg.AssistantID != "" {
		q := u.Query()
		q.Set("assistantId", e.cfg.AssistantID)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+e.cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial engine websocket: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial engine websocket: %w", err)
	}

	e.conn = conn
	e.events = make(chan Event, 64)
	go e.readLoop(conn, e.events)
	return nil
}

func (e *WSEngine) Stop(_ context.Context) error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}

	e.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
	e.writeMu.Unlock()
	return conn.Close()
}

func (e *WSEngine) Send(_ context.Context, msg any) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return errors.New("engine not connected")
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send engine message: %w", err)
	}
	return nil
}

func (e *WSEngine) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

func (e *WSEngine) readLoop(conn *websocket.Conn, events chan<- Event) {
	defer close(events)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			e.mu.Lock()
			stopped := e.conn == nil
			e.mu.Unlock()
			if !stopped {
				events <- Event{Type: EventError, Payload: fmt.Sprintf("engine connection lost: %v", err)}
				events <- Event{Type: EventCallEnd}
			}
			return
		}

		evt, ok := decodeEvent(raw)
		if !ok {
			e.log.Debug("dropping undecodable engine frame", zap.ByteString("frame", raw))
			continue
		}
		events <- evt
	}
}

// decodeEvent maps one wire frame onto an Event. Frames carry their
// event name under "type" (some engine versions use "event") with the
// rest of the object as payload.
func decodeEvent(raw []byte) (Event, bool) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Event{}, false
	}

	name, _ := m["type"].(string)
	if name == "" {
		name, _ = m["event"].(string)
	}

	switch EventType(name) {
	case EventCallStart, EventCallEnd, EventSpeechStart, EventSpeechEnd,
		EventMessage, EventFunctionCall, EventToolCalls, EventError:
		return Event{Type: EventType(name), Payload: m}, true
	default:
		return Event{}, false
	}
}
