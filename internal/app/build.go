// Package app wires configuration into a runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/auth"
	"github.com/emarini/voicegate/internal/config"
	"github.com/emarini/voicegate/internal/engine"
	"github.com/emarini/voicegate/internal/functions"
	"github.com/emarini/voicegate/internal/httpapi"
	"github.com/emarini/voicegate/internal/notify"
	"github.com/emarini/voicegate/internal/observability"
	"github.com/emarini/voicegate/internal/profile"
	"github.com/emarini/voicegate/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Session  *session.Session
	Registry *functions.Registry
	Metrics  *observability.Metrics

	// Engine names the resolved engine backend (vapi or fake).
	Engine string

	// Cleanup should be called on shutdown to release external
	// resources (DB pool, engine connection).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*BuildResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var store profile.Store
	if cfg.DatabaseURL != "" {
		pg, err := profile.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("profile store init failed: %w", err)
		}
		store = pg
		log.Info("profile store: postgres")
	} else {
		store = profile.NewMemoryStore()
		log.Warn("profile store: in-memory (DATABASE_URL not set, PINs do not survive restart)")
	}

	identity := resolveIdentity(cfg)
	authSvc := auth.NewService(identity, store, log)

	eng, engineName, err := resolveEngine(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	webhook := notify.NewWebhook(cfg.WebhookURL, &http.Client{Timeout: cfg.WebhookTimeout}, log)

	registry := functions.NewRegistry(log, metrics,
		functions.NewClock(),
		functions.NewVerifyPin(authSvc, metrics),
		functions.NewNotify(webhook, metrics),
		functions.NewDebugPin(),
	)

	sess := session.New(eng, registry, metrics, log)
	api := httpapi.New(cfg, sess, authSvc, registry, metrics, log)

	cleanup := func() error {
		endErr := sess.End(context.Background())
		storeErr := store.Close()
		if endErr != nil {
			return endErr
		}
		return storeErr
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Session:  sess,
		Registry: registry,
		Metrics:  metrics,
		Engine:   engineName,
		Cleanup:  cleanup,
	}, nil
}

func resolveIdentity(cfg config.Config) profile.Identity {
	user := profile.AuthenticatedUser{ID: cfg.AuthUserID, Email: cfg.AuthUserEmail}
	return profile.StaticIdentity{User: user}
}

func resolveEngine(cfg config.Config, log *zap.Logger) (engine.Engine, string, error) {
	switch cfg.EngineProvider {
	case "vapi":
		eng, err := engine.NewWSEngine(engine.WSConfig{
			BaseURL:     cfg.EngineBaseURL,
			APIKey:      cfg.EngineAPIKey,
			AssistantID: cfg.EngineAssistantID,
		}, log)
		if err != nil {
			return nil, "", fmt.Errorf("engine init failed: %w", err)
		}
		log.Info("voice engine: vapi realtime")
		return eng, "vapi", nil
	case "fake":
		log.Info("voice engine: fake")
		return engine.NewFake(), "fake", nil
	default: // auto
		if cfg.EngineAPIKey != "" {
			eng, err := engine.NewWSEngine(engine.WSConfig{
				BaseURL:     cfg.EngineBaseURL,
				APIKey:      cfg.EngineAPIKey,
				AssistantID: cfg.EngineAssistantID,
			}, log)
			if err != nil {
				return nil, "", fmt.Errorf("engine init failed: %w", err)
			}
			log.Info("voice engine: vapi realtime")
			return eng, "vapi", nil
		}
		log.Warn("voice engine: fake (VOICE_ENGINE_API_KEY not set)")
		return engine.NewFake(), "fake", nil
	}
}
