// Package engine abstracts the remote voice engine: an external
// service that runs speech recognition, synthesis and the assistant
// model, and drives the client through an asynchronous event stream.
//
// The engine handle is an injected dependency owned by the session,
// not ambient process state, so tests can drive a session with a fake.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// EventType names the engine emissions the client consumes.
type EventType string

const (
	EventCallStart    EventType = "call-start"
	EventCallEnd      EventType = "call-end"
	EventSpeechStart  EventType = "speech-start"
	EventSpeechEnd    EventType = "speech-end"
	EventMessage      EventType = "message"
	EventFunctionCall EventType = "function-call"
	EventToolCalls    EventType = "tool-calls"
	EventError        EventType = "error"
)

// Event is one engine emission. Payload shape varies by event type and
// by provider version; see Normalize for function calls.
type Event struct {
	Type    EventType
	Payload any
}

// Engine is the send/receive channel to the remote voice engine.
// Stop must be safe to call from any state, including before Start.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg any) error
	Events() <-chan Event
}

// FunctionResultMessage is the single outbound shape carrying a
// dispatch result back to the engine, tagged with the id of the call
// that produced it.
type FunctionResultMessage struct {
	Type           string `json:"type"`
	FunctionCallID string `json:"functionCallId"`
	Result         any    `json:"result"`
}

func NewFunctionResult(callID string, result any) FunctionResultMessage {
	return FunctionResultMessage{Type: "function-result", FunctionCallID: callID, Result: result}
}

// AddMessage injects a user text message into the live conversation.
type AddMessage struct {
	Type    string      `json:"type"`
	Message ChatMessage `json:"message"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewAddMessage(content string) AddMessage {
	return AddMessage{Type: "add-message", Message: ChatMessage{Role: "user", Content: content}}
}

// ErrorMessage flattens an error event payload into a single human
// readable string. Engines report failures in several shapes,
// including HTTP-response-shaped objects with status/statusText/body.
func ErrorMessage(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "unknown error occurred"
	case string:
		if strings.TrimSpace(v) == "" {
			return "unknown error occurred"
		}
		return v
	case error:
		return v.Error()
	case map[string]any:
		if status, ok := asInt(v["status"]); ok {
			msg := fmt.Sprintf("API Error %d", status)
			if st, _ := v["statusText"].(string); st != "" {
				msg += ": " + st
			} else {
				msg += ": Request failed"
			}
			if detail := bodyDetail(v["body"]); detail != "" {
				msg += " - " + detail
			}
			return msg
		}
		for _, key := range []string{"message", "error", "detail"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func bodyDetail(body any) string {
	s, ok := body.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		for _, key := range []string{"message", "error"} {
			if m, ok := parsed[key].(string); ok && m != "" {
				return m
			}
		}
	}
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
