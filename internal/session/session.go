// Package session tracks the lifecycle of one live voice interaction
// and bridges engine events to the function dispatcher.
//
// The engine drives the session through an asynchronous event stream
// with no ordering guarantee beyond call-start preceding speech,
// transcript and function-call events, which precede call-end. Every
// handler here tolerates events arriving outside the expected state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/engine"
	"github.com/emarini/voicegate/internal/functions"
	"github.com/emarini/voicegate/internal/observability"
	"github.com/emarini/voicegate/internal/policy"
)

// Status is the session connection state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

// ErrNotActive is returned for operations that require a live call.
var ErrNotActive = errors.New("no active voice session")

// Message is one entry of the session conversation log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time copy of observable session state.
type Snapshot struct {
	ID         string    `json:"session_id,omitempty"`
	Status     Status    `json:"status"`
	Listening  bool      `json:"listening"`
	Speaking   bool      `json:"speaking"`
	Transcript string    `json:"transcript"`
	Messages   []Message `json:"messages"`
	LastError  string    `json:"last_error,omitempty"`
}

// Session owns one voice engine handle and a single logical call at a
// time. Function calls arriving on the event stream are dispatched
// independently; each produces exactly one result tagged with its own
// call id, with no ordering guarantee between concurrent calls.
type Session struct {
	engine   engine.Engine
	registry *functions.Registry
	metrics  *observability.Metrics
	log      *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	id         string
	status     Status
	listening  bool
	speaking   bool
	transcript string
	messages   []Message
	lastErr    string
	quit       chan struct{}

	dispatches sync.WaitGroup
}

func New(eng engine.Engine, registry *functions.Registry, metrics *observability.Metrics, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		engine:   eng,
		registry: registry,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		status:   StatusIdle,
	}
}

// Start begins a new call. Valid from idle or ended; the conversation
// log of the previous call is discarded here, not at End. The session
// stays in connecting until the engine confirms with call-start.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusConnecting || s.status == StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("session already %s", s.status)
	}
	prev := s.status
	id := uuid.NewString()
	s.id = id
	s.status = StatusConnecting
	s.messages = nil
	s.transcript = ""
	s.lastErr = ""
	s.mu.Unlock()

	if err := s.engine.Start(ctx); err != nil {
		s.mu.Lock()
		s.status = prev
		s.lastErr = fmt.Sprintf("failed to start voice call: %v", err)
		s.mu.Unlock()
		s.observeSession("start_failed")
		return fmt.Errorf("start voice call: %w", err)
	}

	quit := make(chan struct{})
	s.mu.Lock()
	if s.quit != nil {
		// A previous call that ended on an engine event may still
		// have its consumer parked; release it before starting a new one.
		close(s.quit)
	}
	s.quit = quit
	s.mu.Unlock()

	go s.eventLoop(s.engine.Events(), quit)
	s.observeSession("started")
	s.log.Info("voice call starting", zap.String("session_id", id))
	return nil
}

// End stops the call. Safe to invoke from any state, repeatedly. The
// message log survives until the next Start.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	wasLive := s.status == StatusConnecting || s.status == StatusActive
	s.status = StatusEnded
	s.listening = false
	s.speaking = false
	quit := s.quit
	s.quit = nil
	s.mu.Unlock()

	if quit != nil {
		close(quit)
	}
	if wasLive {
		s.observeSession("ended")
		s.setActiveGauge(false)
	}

	if err := s.engine.Stop(ctx); err != nil {
		s.recordError(err.Error())
		return fmt.Errorf("stop voice call: %w", err)
	}
	return nil
}

// SendMessage forwards a user text message into the live call and
// records it in the conversation log.
func (s *Session) SendMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	active := s.status == StatusActive
	s.mu.Unlock()
	if !active {
		return ErrNotActive
	}

	if err := s.engine.Send(ctx, engine.NewAddMessage(content)); err != nil {
		s.recordError(err.Error())
		return err
	}
	s.appendMessage("user", content)
	return nil
}

// Snapshot returns a copy of the observable session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:         s.id,
		Status:     s.status,
		Listening:  s.listening,
		Speaking:   s.speaking,
		Transcript: s.transcript,
		Messages:   msgs,
		LastError:  s.lastErr,
	}
}

func (s *Session) eventLoop(events <-chan engine.Event, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case evt, ok := <-events:
			if !ok {
				// Engine hung up without a call-end frame.
				s.mu.Lock()
				wasLive := s.status == StatusConnecting || s.status == StatusActive
				if wasLive {
					s.status = StatusEnded
					s.listening = false
					s.speaking = false
				}
				s.mu.Unlock()
				if wasLive {
					s.observeSession("ended")
					s.setActiveGauge(false)
				}
				return
			}
			s.handleEvent(evt)
		}
	}
}

func (s *Session) handleEvent(evt engine.Event) {
	if s.metrics != nil {
		s.metrics.EngineEvents.WithLabelValues(string(evt.Type)).Inc()
	}

	switch evt.Type {
	case engine.EventCallStart:
		s.mu.Lock()
		already := s.status == StatusActive
		if !already {
			s.status = StatusActive
		}
		s.mu.Unlock()
		if !already {
			s.observeSession("call_start")
			s.setActiveGauge(true)
			s.log.Info("call started")
		}

	case engine.EventCallEnd:
		s.mu.Lock()
		wasActive := s.status == StatusActive || s.status == StatusConnecting
		s.status = StatusEnded
		s.listening = false
		s.speaking = false
		s.mu.Unlock()
		if wasActive {
			s.observeSession("call_end")
			s.setActiveGauge(false)
			s.log.Info("call ended")
		}

	case engine.EventSpeechStart:
		s.setListening(true)

	case engine.EventSpeechEnd:
		s.setListening(false)

	case engine.EventMessage:
		s.handleMessage(evt.Payload)

	case engine.EventFunctionCall:
		s.handleFunctionCall(evt.Payload)

	case engine.EventToolCalls:
		s.handleToolCalls(evt.Payload)

	case engine.EventError:
		// An engine error does not end the call by itself; the engine
		// signals that separately with call-end.
		msg := engine.ErrorMessage(evt.Payload)
		s.recordError(msg)
		s.log.Warn("engine error event", zap.String("error", msg))
	}
}

// setListening toggles the listening flag, but only while active.
// Speech events outside a live call are stale and dropped.
func (s *Session) setListening(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return
	}
	s.listening = v
}

func (s *Session) handleMessage(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return
	}

	switch m["type"] {
	case "transcript":
		// Only final transcripts persist; partials are display-only.
		if m["transcriptType"] != "final" {
			return
		}
		text, _ := m["transcript"].(string)
		if text == "" {
			return
		}
		// A spoken PIN comes back as transcript text; mask it before
		// anything durable sees it.
		stored, masked := policy.RedactSensitive(text)
		if masked {
			s.log.Debug("transcript redacted")
		}
		s.mu.Lock()
		if s.status != StatusActive {
			s.mu.Unlock()
			return
		}
		s.transcript = stored
		s.mu.Unlock()
		s.appendMessage("user", stored)

	case "speech-update":
		if role, _ := m["role"].(string); role != "assistant" {
			return
		}
		status, _ := m["status"].(string)
		s.mu.Lock()
		if s.status == StatusActive {
			s.speaking = status == "started"
		}
		s.mu.Unlock()

	case "function-call":
		s.appendMessage("system", progressNote(m))
	}
}

func (s *Session) handleFunctionCall(payload any) {
	call, err := engine.Normalize(payload)
	if err != nil {
		s.log.Warn("malformed function call", zap.Error(err))
		s.sendResult(engine.CallID(payload), functions.Failure(err))
		return
	}
	s.dispatch(call)
}

func (s *Session) handleToolCalls(payload any) {
	batch, err := engine.NormalizeBatch(payload)
	if err != nil {
		s.log.Warn("malformed tool calls", zap.Error(err))
		s.sendResult(engine.CallID(payload), functions.Failure(err))
		return
	}
	// Simultaneous tool calls are independent: each gets its own
	// dispatch and its own correlated result, in whatever order they
	// finish. A malformed item is answered with a failure under its
	// own id and does not block the rest of the batch.
	for _, item := range batch {
		if item.Err != nil {
			s.log.Warn("malformed tool call", zap.Error(item.Err))
			s.sendResult(item.ID, functions.Failure(item.Err))
			continue
		}
		s.dispatch(item.Call)
	}
}

func (s *Session) dispatch(call functions.Call) {
	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		result := s.registry.Dispatch(context.Background(), call)
		s.sendResult(call.ID, result)
	}()
}

// sendResult delivers exactly one result envelope for the given call
// id. Send failures surface in the session error slot only; there is
// nothing else to do with a result the engine will not take.
func (s *Session) sendResult(callID string, result functions.Result) {
	msg := engine.NewFunctionResult(callID, result)
	if err := s.engine.Send(context.Background(), msg); err != nil {
		s.recordError(fmt.Sprintf("failed to send function result: %v", err))
		s.log.Warn("function result send failed",
			zap.String("call_id", callID), zap.Error(err))
	}
}

func (s *Session) appendMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: content, Timestamp: s.now().UTC()})
}

func (s *Session) recordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
}

func (s *Session) observeSession(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Session) setActiveGauge(active bool) {
	if s.metrics == nil {
		return
	}
	if active {
		s.metrics.ActiveSessions.Set(1)
	} else {
		s.metrics.ActiveSessions.Set(0)
	}
}

// progressNote mirrors the short status line the UI shows while a
// function call is in flight.
func progressNote(m map[string]any) string {
	name := ""
	if fc, ok := m["functionCall"].(map[string]any); ok {
		name, _ = fc["name"].(string)
	}
	switch name {
	case "get_current_time":
		return "Getting current time..."
	case "verify_pin":
		return "Verifying PIN..."
	case "send_webhook_notification":
		return "Sending notification..."
	default:
		return "Processing..."
	}
}
