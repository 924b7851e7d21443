// Package httpapi exposes the control surface of the service: session
// lifecycle, PIN management and observability endpoints. The voice
// stream itself never touches this API; it flows over the engine
// channel owned by the session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/auth"
	"github.com/emarini/voicegate/internal/config"
	"github.com/emarini/voicegate/internal/functions"
	"github.com/emarini/voicegate/internal/observability"
	"github.com/emarini/voicegate/internal/pin"
	"github.com/emarini/voicegate/internal/profile"
	"github.com/emarini/voicegate/internal/session"
)

type Server struct {
	cfg      config.Config
	session  *session.Session
	auth     *auth.Service
	registry *functions.Registry
	metrics  *observability.Metrics
	log      *zap.Logger
}

func New(cfg config.Config, sess *session.Session, authSvc *auth.Service, registry *functions.Registry, metrics *observability.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		session:  sess,
		auth:     authSvc,
		registry: registry,
		metrics:  metrics,
		log:      log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session/start", s.handleStartSession)
	r.Post("/v1/voice/session/end", s.handleEndSession)
	r.Get("/v1/voice/session", s.handleGetSession)
	r.Post("/v1/voice/session/message", s.handleSendMessage)

	r.Get("/v1/functions", s.handleListFunctions)

	r.Get("/v1/profile", s.handleGetProfile)
	r.Post("/v1/pin", s.handleCreatePin)
	r.Put("/v1/pin", s.handleUpdatePin)
	r.Delete("/v1/pin", s.handleDeletePin)
	r.Post("/v1/pin/verify", s.handleVerifyPin)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"session_status": s.session.Snapshot().Status,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(r.Context()); err != nil {
		respondError(w, http.StatusConflict, "session_start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.session.End(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "session_end_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if err := s.session.SendMessage(r.Context(), req.Content); err != nil {
		if errors.Is(err, session.ErrNotActive) {
			respondError(w, http.StatusConflict, "session_not_active", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "send_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleListFunctions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"functions": s.registry.Names()})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth.Profile(r.Context())
	if err != nil {
		s.respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pin json.RawMessage `json:"pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := s.auth.Create(r.Context(), decodeRaw(req.Pin))
	if err != nil {
		s.respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPin json.RawMessage `json:"current_pin"`
		NewPin     json.RawMessage `json:"new_pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p, err := s.auth.Update(r.Context(), decodeRaw(req.CurrentPin), decodeRaw(req.NewPin))
	if err != nil {
		s.respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePin(w http.ResponseWriter, r *http.Request) {
	p, err := s.auth.Delete(r.Context())
	if err != nil {
		s.respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleVerifyPin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pin json.RawMessage `json:"pin"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID, err := s.auth.Verify(r.Context(), decodeRaw(req.Pin))
	if err != nil {
		s.respondAuthError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": userID})
}

func (s *Server) respondAuthError(w http.ResponseWriter, err error) {
	var verr *pin.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "invalid_pin_format", verr.Error())
	case errors.Is(err, profile.ErrNotAuthenticated):
		respondError(w, http.StatusUnauthorized, "not_authenticated", "user not authenticated")
	case errors.Is(err, profile.ErrNotFound):
		respondError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, auth.ErrNoPinSet):
		respondError(w, http.StatusConflict, "no_pin_set", err.Error())
	case errors.Is(err, auth.ErrPinMismatch):
		respondError(w, http.StatusForbidden, "pin_mismatch", err.Error())
	case errors.Is(err, auth.ErrCurrentPinMismatch):
		respondError(w, http.StatusForbidden, "current_pin_mismatch", err.Error())
	default:
		s.log.Error("pin operation failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_failure", err.Error())
	}
}

// decodeRaw turns a raw JSON field into the loosely-typed value the
// pin normalizer expects: string, float64 or nil.
func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// Serve runs the API until ctx is cancelled, then shuts down within
// the configured timeout.
func Serve(ctx context.Context, cfg config.Config, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{Addr: cfg.BindAddr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return <-errCh
}
