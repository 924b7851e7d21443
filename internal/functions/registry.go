// Package functions implements the dispatch surface the voice engine
// can invoke during a session: a fixed registry of named handlers and
// a dispatcher that turns every outcome, including panics, into one
// serializable result envelope.
package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/observability"
)

// ErrUnknownFunction is returned inside the failure envelope when a
// call names a function outside the registered set. Kept distinct from
// handler failures so "bad name" stays observable.
var ErrUnknownFunction = errors.New("unknown function")

// Call is a single function invocation from the voice engine. ID is
// opaque and must be echoed back exactly once with the result.
type Call struct {
	ID         string
	Name       string
	Parameters map[string]any
}

// Result is the plain-data envelope sent back over the engine channel.
// It always carries "success" and "timestamp"; everything else is
// handler specific.
type Result map[string]any

// Handler executes one named function. Returning an error produces a
// uniform failure envelope; the returned payload may pre-populate
// envelope fields (including "success": false for reported failures
// that carry extra context, e.g. webhook delivery details).
type Handler interface {
	Name() string
	Handle(ctx context.Context, params map[string]any) (Result, error)
}

// Registry maps function names to handlers. The set is fixed at
// construction; names outside it are rejected at the boundary.
type Registry struct {
	handlers map[string]Handler
	metrics  *observability.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewRegistry(log *zap.Logger, metrics *observability.Metrics, handlers ...Handler) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		handlers: make(map[string]Handler, len(handlers)),
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
	for _, h := range handlers {
		r.handlers[h.Name()] = h
	}
	return r
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch resolves and runs the named handler. It never returns an
// error and never panics: every fault is captured into a
// {success:false, error, timestamp} envelope, and every result is
// round-tripped through JSON so the transport only ever sees plain
// data.
func (r *Registry) Dispatch(ctx context.Context, call Call) Result {
	started := r.now()
	result := r.dispatch(ctx, call)
	result = r.finalize(result)

	outcome := "success"
	if ok, _ := result["success"].(bool); !ok {
		outcome = "failure"
	}
	if r.metrics != nil {
		r.metrics.ObserveDispatch(call.Name, outcome, r.now().Sub(started))
	}
	r.log.Debug("function dispatched",
		zap.String("function", call.Name),
		zap.String("call_id", call.ID),
		zap.String("outcome", outcome))
	return result
}

func (r *Registry) dispatch(ctx context.Context, call Call) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("function handler panicked",
				zap.String("function", call.Name),
				zap.Any("panic", rec))
			result = r.failure(fmt.Errorf("handler panic: %v", rec))
		}
	}()

	h, ok := r.handlers[call.Name]
	if !ok {
		r.log.Warn("unknown function called", zap.String("function", call.Name))
		return r.failure(fmt.Errorf("%w: %s", ErrUnknownFunction, call.Name))
	}

	payload, err := h.Handle(ctx, call.Parameters)
	if err != nil {
		f := r.failure(err)
		// Carry handler supplied context (endpoints, debug fields)
		// into the failure envelope.
		for k, v := range payload {
			if _, exists := f[k]; !exists {
				f[k] = v
			}
		}
		return f
	}
	if payload == nil {
		payload = Result{}
	}
	return payload
}

// finalize fills the mandatory envelope fields and strips anything a
// JSON encoder cannot represent. The transport boundary requires plain
// data only.
func (r *Registry) finalize(result Result) Result {
	if _, ok := result["success"]; !ok {
		result["success"] = true
	}
	if _, ok := result["timestamp"]; !ok {
		result["timestamp"] = r.now().UTC().Format(time.RFC3339)
	}

	clean, err := sanitize(result)
	if err != nil {
		r.log.Error("function result not serializable", zap.Error(err))
		return r.failure(fmt.Errorf("result not serializable: %w", err))
	}
	return clean
}

func (r *Registry) failure(err error) Result {
	return failureAt(err, r.now())
}

// Failure builds the uniform failure envelope used everywhere a fault
// is reported back over the engine channel.
func Failure(err error) Result {
	return failureAt(err, time.Now())
}

func failureAt(err error, at time.Time) Result {
	return Result{
		"success":   false,
		"error":     err.Error(),
		"timestamp": at.UTC().Format(time.RFC3339),
	}
}

// sanitize deep-clones the result through JSON, rejecting functions,
// channels, cycles and other non-plain values.
func sanitize(result Result) (Result, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var clean Result
	if err := json.Unmarshal(raw, &clean); err != nil {
		return nil, err
	}
	return clean, nil
}
