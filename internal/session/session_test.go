package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emarini/voicegate/internal/auth"
	"github.com/emarini/voicegate/internal/engine"
	"github.com/emarini/voicegate/internal/functions"
	"github.com/emarini/voicegate/internal/profile"
)

func newTestSession(t *testing.T, storedPin string) (*Session, *engine.Fake) {
	t.Helper()
	store := profile.NewMemoryStore()
	user := profile.AuthenticatedUser{ID: "u1", Email: "u1@example.com"}
	if _, err := store.Ensure(context.Background(), user); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if storedPin != "" {
		if _, err := store.SetPin(context.Background(), "u1", storedPin); err != nil {
			t.Fatalf("SetPin() error = %v", err)
		}
	}
	authSvc := auth.NewService(profile.StaticIdentity{User: user}, store, nil)
	registry := functions.NewRegistry(nil, nil,
		functions.NewClock(),
		functions.NewVerifyPin(authSvc, nil),
		functions.NewDebugPin(),
	)

	fake := engine.NewFake()
	s := New(fake, registry, nil, nil)
	t.Cleanup(func() { _ = s.End(context.Background()) })
	return s, fake
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestLifecycleStartActiveEnd(t *testing.T) {
	s, fake := newTestSession(t, "")

	if got := s.Snapshot().Status; got != StatusIdle {
		t.Fatalf("initial status = %q, want idle", got)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := s.Snapshot().Status; got != StatusConnecting {
		t.Fatalf("status after Start = %q, want connecting", got)
	}
	if s.Snapshot().ID == "" {
		t.Fatalf("session id not assigned on Start")
	}

	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventSpeechStart})
	waitFor(t, func() bool { return s.Snapshot().Listening })

	fake.Emit(engine.Event{Type: engine.EventCallEnd})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusEnded })

	snap := s.Snapshot()
	if snap.Listening || snap.Speaking {
		t.Fatalf("flags not cleared at call end: %+v", snap)
	}
}

func TestStartFailureRecordsError(t *testing.T) {
	s, fake := newTestSession(t, "")
	fake.FailStartWith(errors.New("401 unauthorized"))

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start() expected error")
	}
	snap := s.Snapshot()
	if snap.Status != StatusIdle {
		t.Fatalf("status = %q, want idle after failed start", snap.Status)
	}
	if !strings.Contains(snap.LastError, "401") {
		t.Fatalf("last error = %q", snap.LastError)
	}

	// A later start attempt succeeds.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() retry error = %v", err)
	}
}

func TestStartWhileLiveRejected(t *testing.T) {
	s, _ := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second Start() should be rejected")
	}
}

func TestSpeechEventsIgnoredOutsideActive(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Still connecting: speech events are stale no-ops.
	fake.Emit(engine.Event{Type: engine.EventSpeechStart})
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })
	if s.Snapshot().Listening {
		t.Fatalf("listening set by speech event that preceded call start")
	}
}

func TestFinalTranscriptAppended(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventMessage, Payload: map[string]any{
		"type": "transcript", "transcriptType": "partial", "transcript": "what ti",
	}})
	fake.Emit(engine.Event{Type: engine.EventMessage, Payload: map[string]any{
		"type": "transcript", "transcriptType": "final", "transcript": "what time is it",
	}})

	waitFor(t, func() bool { return len(s.Snapshot().Messages) == 1 })
	snap := s.Snapshot()
	if snap.Transcript != "what time is it" {
		t.Fatalf("transcript = %q", snap.Transcript)
	}
	if snap.Messages[0].Role != "user" || snap.Messages[0].Content != "what time is it" {
		t.Fatalf("message = %+v", snap.Messages[0])
	}
}

func TestSpokenPinRedactedFromTranscript(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventMessage, Payload: map[string]any{
		"type": "transcript", "transcriptType": "final", "transcript": "my pin is 048213",
	}})
	waitFor(t, func() bool { return len(s.Snapshot().Messages) == 1 })

	snap := s.Snapshot()
	if snap.Transcript != "my pin is [REDACTED_PIN]" {
		t.Fatalf("transcript = %q, PIN not redacted", snap.Transcript)
	}
	if snap.Messages[0].Content != "my pin is [REDACTED_PIN]" {
		t.Fatalf("message = %q, PIN not redacted", snap.Messages[0].Content)
	}
}

func TestErrorEventDoesNotEndCall(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventError, Payload: map[string]any{
		"status": float64(429), "statusText": "Too Many Requests",
	}})
	waitFor(t, func() bool { return s.Snapshot().LastError != "" })

	snap := s.Snapshot()
	if snap.Status != StatusActive {
		t.Fatalf("status = %q, error event must not end the call", snap.Status)
	}
	if !strings.Contains(snap.LastError, "429") {
		t.Fatalf("last error = %q", snap.LastError)
	}
}

func TestFunctionCallDispatchedWithCorrelatedResult(t *testing.T) {
	s, fake := newTestSession(t, "048213")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventFunctionCall, Payload: map[string]any{
		"type":           "function-call",
		"functionName":   "verify_pin",
		"functionCallId": "call-42",
		"parameters":     map[string]any{"pin": float64(48213)},
	}})

	waitFor(t, func() bool { return len(fake.Sent()) == 1 })
	s.dispatches.Wait()

	msg, ok := fake.Sent()[0].(engine.FunctionResultMessage)
	if !ok {
		t.Fatalf("sent message is %T", fake.Sent()[0])
	}
	if msg.Type != "function-result" || msg.FunctionCallID != "call-42" {
		t.Fatalf("message = %+v", msg)
	}
	result, ok := msg.Result.(functions.Result)
	if !ok {
		t.Fatalf("result is %T", msg.Result)
	}
	if success, _ := result["success"].(bool); !success {
		t.Fatalf("result = %+v", result)
	}
	if result["user_id"] != "u1" {
		t.Fatalf("user_id = %v", result["user_id"])
	}
}

func TestConcurrentToolCallsEachGetOwnResult(t *testing.T) {
	s, fake := newTestSession(t, "048213")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventToolCalls, Payload: map[string]any{
		"type": "tool-calls",
		"toolCalls": []any{
			map[string]any{
				"toolCallId": "tc-1",
				"function":   map[string]any{"name": "get_current_time", "arguments": map[string]any{}},
			},
			map[string]any{
				"toolCallId": "tc-2",
				"function":   map[string]any{"name": "verify_pin", "arguments": map[string]any{"pin": "048213"}},
			},
		},
	}})

	waitFor(t, func() bool { return len(fake.Sent()) == 2 })
	s.dispatches.Wait()

	seen := map[string]bool{}
	for _, sent := range fake.Sent() {
		msg := sent.(engine.FunctionResultMessage)
		seen[msg.FunctionCallID] = true
	}
	if !seen["tc-1"] || !seen["tc-2"] {
		t.Fatalf("results do not cover both call ids: %v", seen)
	}
}

func TestBatchWithMalformedItemAnswersEveryCall(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventToolCalls, Payload: map[string]any{
		"type": "tool-calls",
		"toolCalls": []any{
			map[string]any{
				"toolCallId": "tc-1",
				"function":   map[string]any{"name": "get_current_time", "arguments": map[string]any{}},
			},
			map[string]any{
				// No function name anywhere.
				"toolCallId": "tc-2",
				"function":   map[string]any{"arguments": map[string]any{}},
			},
			map[string]any{
				"toolCallId": "tc-3",
				"function":   map[string]any{"name": "get_current_time", "arguments": map[string]any{}},
			},
		},
	}})

	waitFor(t, func() bool { return len(fake.Sent()) == 3 })
	s.dispatches.Wait()

	results := map[string]functions.Result{}
	for _, sent := range fake.Sent() {
		msg := sent.(engine.FunctionResultMessage)
		results[msg.FunctionCallID] = msg.Result.(functions.Result)
	}
	if len(results) != 3 {
		t.Fatalf("results by call id = %v, want tc-1 tc-2 tc-3", results)
	}
	for _, id := range []string{"tc-1", "tc-3"} {
		r, ok := results[id]
		if !ok {
			t.Fatalf("no result for %s", id)
		}
		if success, _ := r["success"].(bool); !success {
			t.Fatalf("result for %s = %+v, want success", id, r)
		}
	}
	bad, ok := results["tc-2"]
	if !ok {
		t.Fatalf("malformed item got no result: %v", results)
	}
	if success, _ := bad["success"].(bool); success {
		t.Fatalf("result for tc-2 = %+v, want failure", bad)
	}
	if msg, _ := bad["error"].(string); !strings.Contains(msg, "function name") {
		t.Fatalf("error for tc-2 = %q", msg)
	}
}

func TestMalformedFunctionCallStillAnswered(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventFunctionCall, Payload: map[string]any{
		"functionCallId": "call-9",
		"parameters":     map[string]any{"pin": "123456"},
	}})

	waitFor(t, func() bool { return len(fake.Sent()) == 1 })
	msg := fake.Sent()[0].(engine.FunctionResultMessage)
	if msg.FunctionCallID != "call-9" {
		t.Fatalf("call id = %q", msg.FunctionCallID)
	}
	result := msg.Result.(functions.Result)
	if ok, _ := result["success"].(bool); ok {
		t.Fatalf("result = %+v, want failure", result)
	}
}

func TestUnknownFunctionAnswered(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventFunctionCall, Payload: map[string]any{
		"functionName":   "open_pod_bay_doors",
		"functionCallId": "call-7",
	}})

	waitFor(t, func() bool { return len(fake.Sent()) == 1 })
	result := fake.Sent()[0].(engine.FunctionResultMessage).Result.(functions.Result)
	if msg, _ := result["error"].(string); !strings.Contains(msg, "unknown function") {
		t.Fatalf("error = %q", msg)
	}
}

func TestMessagesSurviveEndUntilNextStart(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })
	fake.Emit(engine.Event{Type: engine.EventMessage, Payload: map[string]any{
		"type": "transcript", "transcriptType": "final", "transcript": "hello",
	}})
	waitFor(t, func() bool { return len(s.Snapshot().Messages) == 1 })

	if err := s.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := len(s.Snapshot().Messages); got != 1 {
		t.Fatalf("messages after End = %d, want 1", got)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := len(s.Snapshot().Messages); got != 0 {
		t.Fatalf("messages after restart = %d, want 0", got)
	}
}

func TestEndSafeFromAnyState(t *testing.T) {
	s, _ := newTestSession(t, "")
	for i := 0; i < 3; i++ {
		if err := s.End(context.Background()); err != nil {
			t.Fatalf("End() #%d error = %v", i, err)
		}
	}
}

func TestSendMessageRequiresActive(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.SendMessage(context.Background(), "hi"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("SendMessage() error = %v, want ErrNotActive", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	if err := s.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	sent := fake.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages", len(sent))
	}
	add := sent[0].(engine.AddMessage)
	if add.Type != "add-message" || add.Message.Content != "hi" {
		t.Fatalf("message = %+v", add)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Role != "user" {
		t.Fatalf("log = %+v", snap.Messages)
	}
}

func TestEngineHangupEndsSession(t *testing.T) {
	s, fake := newTestSession(t, "")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.CloseEvents()
	waitFor(t, func() bool { return s.Snapshot().Status == StatusEnded })
}

func TestFunctionCallProgressNoteLogged(t *testing.T) {
	s, fake := newTestSession(t, "048213")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	fake.Emit(engine.Event{Type: engine.EventCallStart})
	waitFor(t, func() bool { return s.Snapshot().Status == StatusActive })

	fake.Emit(engine.Event{Type: engine.EventMessage, Payload: map[string]any{
		"type":         "function-call",
		"functionCall": map[string]any{"name": "verify_pin"},
	}})
	waitFor(t, func() bool { return len(s.Snapshot().Messages) == 1 })
	msg := s.Snapshot().Messages[0]
	if msg.Role != "system" || msg.Content != "Verifying PIN..." {
		t.Fatalf("message = %+v", msg)
	}
}
