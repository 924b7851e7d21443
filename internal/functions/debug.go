package functions

import (
	"context"
	"fmt"
)

// DebugPin implements debug_pin_input, a debug-only introspection
// function that reports how the engine delivered the pin parameter.
// Useful when the model mangles spoken digits into odd shapes.
type DebugPin struct{}

func NewDebugPin() *DebugPin { return &DebugPin{} }

func (d *DebugPin) Name() string { return "debug_pin_input" }

func (d *DebugPin) Handle(_ context.Context, params map[string]any) (Result, error) {
	raw := params["pin"]

	asString := fmt.Sprintf("%v", raw)
	digits := make([]byte, 0, len(asString))
	charCodes := make([]int, 0, len(asString))
	if s, ok := raw.(string); ok {
		asString = s
		for i := 0; i < len(s); i++ {
			charCodes = append(charCodes, int(s[i]))
		}
	}
	for i := 0; i < len(asString); i++ {
		if asString[i] >= '0' && asString[i] <= '9' {
			digits = append(digits, asString[i])
		}
	}

	_, isString := raw.(string)
	_, isNumber := raw.(float64)

	return Result{
		"message": "PIN input debug completed",
		"analysis": map[string]any{
			"received_value": raw,
			"type":           fmt.Sprintf("%T", raw),
			"length":         len(asString),
			"is_string":      isString,
			"is_number":      isNumber,
			"raw_string":     asString,
			"digits_only":    string(digits),
			"char_codes":     charCodes,
		},
	}, nil
}
