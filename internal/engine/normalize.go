package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emarini/voicegate/internal/functions"
)

// ErrNoFunctionName means a function-call payload carried no
// resolvable function name in any known position.
var ErrNoFunctionName = errors.New("function name not found in call")

// Normalize converts one heterogeneous function-call payload into a
// canonical call record. Engines deliver the same call in several
// shapes: the name may sit at the top level (functionName, name) or
// nested under a function object, parameters may arrive as a decoded
// object or as a JSON-encoded arguments string, and the call id may be
// functionCallId, toolCallId or plain id.
func Normalize(payload any) (functions.Call, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return functions.Call{}, fmt.Errorf("function call payload is %T, want object", payload)
	}

	nested, _ := m["function"].(map[string]any)
	if nested == nil {
		nested, _ = m["functionCall"].(map[string]any)
	}

	name := firstString(m, "functionName", "name")
	if name == "" && nested != nil {
		name = firstString(nested, "name")
	}
	if name == "" {
		return functions.Call{}, ErrNoFunctionName
	}

	params := parameters(m)
	if params == nil && nested != nil {
		params = parameters(nested)
	}
	if params == nil {
		params = map[string]any{}
	}

	return functions.Call{
		ID:         firstString(m, "functionCallId", "toolCallId", "id"),
		Name:       name,
		Parameters: params,
	}, nil
}

// BatchCall is one entry of an expanded tool-calls batch. Err is set
// when the entry could not be normalized; ID is still extracted from
// the raw item so a failure result can be correlated to it.
type BatchCall struct {
	Call functions.Call
	ID   string
	Err  error
}

// NormalizeBatch expands a tool-calls payload into its individual
// calls. The payload may be a bare array, an object wrapping an array
// under toolCalls / toolCallList, or a single call object. Entries are
// normalized independently: a malformed item becomes a BatchCall with
// Err set and never hides the items after it. The error return is
// reserved for payloads that are not an object or array at all.
func NormalizeBatch(payload any) ([]BatchCall, error) {
	switch v := payload.(type) {
	case []any:
		return normalizeSlice(v), nil
	case map[string]any:
		for _, key := range []string{"toolCalls", "toolCallList", "calls"} {
			if list, ok := v[key].([]any); ok {
				return normalizeSlice(list), nil
			}
		}
		return normalizeSlice([]any{v}), nil
	default:
		return nil, fmt.Errorf("tool calls payload is %T, want object or array", payload)
	}
}

func normalizeSlice(list []any) []BatchCall {
	batch := make([]BatchCall, 0, len(list))
	for _, item := range list {
		call, err := Normalize(item)
		if err != nil {
			batch = append(batch, BatchCall{ID: CallID(item), Err: err})
			continue
		}
		batch = append(batch, BatchCall{Call: call})
	}
	return batch
}

// CallID pulls the call identifier out of a payload even when the rest
// of it is malformed, so a failure result can still be correlated.
func CallID(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	return firstString(m, "functionCallId", "toolCallId", "id")
}

func parameters(m map[string]any) map[string]any {
	if p, ok := m["parameters"].(map[string]any); ok {
		return p
	}
	switch args := m["arguments"].(type) {
	case map[string]any:
		return args
	case string:
		// Arguments sometimes arrive JSON-encoded rather than decoded.
		var parsed map[string]any
		if err := json.Unmarshal([]byte(args), &parsed); err == nil {
			return parsed
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
