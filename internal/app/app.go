package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/auth"
	"github.com/vovakirdan/chatgate/internal/config"
	"github.com/vovakirdan/chatgate/internal/core"
	"github.com/vovakirdan/chatgate/internal/service/chats"
	"github.com/vovakirdan/chatgate/internal/store"
	"github.com/vovakirdan/chatgate/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/chatgate/internal/transport/http"
)

// App wires together store, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	ws              *transporthttp.WSHandler
	store           store.Store
	log             *zerolog.Logger
}

// JWTConfig derives token settings from the configuration.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := JWTConfig(cfg)

	hub := core.NewHub(logger)
	router := core.NewRouter(hub, chats.New(st), logger, core.RouterOptions{
		StoreTimeout:          cfg.StoreTimeout,
		RequireChatMembership: cfg.RequireChatMembership,
	})

	ws := transporthttp.NewWSHandler(hub, router, logger, transporthttp.WSOptionsFromConfig(cfg))
	server := transporthttp.NewServer(cfg, transporthttp.Deps{
		Hub:      hub,
		Router:   router,
		Verifier: auth.NewVerifier(st, jwtConfig),
		Accounts: auth.NewService(st, jwtConfig),
		WS:       ws,
	}, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		ws:              ws,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go a.hub.Run(hubCtx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked WebSocket connections are not tracked by Shutdown; the
		// hub releases them so their handlers return.
		stopHub()
		shutdownErr := a.server.Shutdown(shutdownCtx)

		// In-flight persistence finishes before the store goes away.
		if err := a.ws.Wait(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("websocket handlers still running at store close")
		}
		a.cleanup()
		if shutdownErr != nil {
			return shutdownErr
		}
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
