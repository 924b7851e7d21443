package functions

import (
	"context"
	"errors"

	"github.com/emarini/voicegate/internal/auth"
	"github.com/emarini/voicegate/internal/observability"
)

// VerifyPin implements verify_pin, gating sensitive actions behind the
// user's stored 6-digit PIN.
type VerifyPin struct {
	auth    *auth.Service
	metrics *observability.Metrics
}

func NewVerifyPin(svc *auth.Service, metrics *observability.Metrics) *VerifyPin {
	return &VerifyPin{auth: svc, metrics: metrics}
}

func (v *VerifyPin) Name() string { return "verify_pin" }

func (v *VerifyPin) Handle(ctx context.Context, params map[string]any) (Result, error) {
	raw, ok := params["pin"]
	if !ok {
		raw = nil
	}

	userID, err := v.auth.Verify(ctx, raw)
	if err != nil {
		v.observe(outcomeFor(err))
		return nil, err
	}

	v.observe("verified")
	return Result{
		"message": "PIN verified successfully",
		"user_id": userID,
	}, nil
}

func (v *VerifyPin) observe(outcome string) {
	if v.metrics != nil {
		v.metrics.PinVerifications.WithLabelValues(outcome).Inc()
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrPinMismatch):
		return "mismatch"
	case errors.Is(err, auth.ErrNoPinSet):
		return "no_pin_set"
	default:
		return "rejected"
	}
}
