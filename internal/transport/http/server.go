package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/auth"
	"github.com/vovakirdan/chatgate/internal/config"
	"github.com/vovakirdan/chatgate/internal/core"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Router   *core.Router
	Verifier CredentialVerifier
	Accounts *auth.Service
	// WS serves /ws. When nil, one is built from the config.
	WS *WSHandler
}

// WSOptionsFromConfig maps connection settings from the configuration.
func WSOptionsFromConfig(cfg *config.Config) WSOptions {
	return WSOptions{
		MaxMessageBytes:    cfg.MaxMessageBytes,
		OutboundBuffer:     cfg.OutboundBuffer,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		InsecureSkipVerify: true,
	}
}

// NewServer builds the HTTP server: health, account endpoints and the
// authenticated WebSocket route.
func NewServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)

	gate := HandshakeGate(deps.Verifier, cfg.TokenHeader, logger)

	ws := deps.WS
	if ws == nil {
		ws = NewWSHandler(deps.Hub, deps.Router, logger, WSOptionsFromConfig(cfg))
	}
	engine.GET("/ws", gate, ws.Handle)

	if deps.Accounts != nil {
		api := NewAPIHandlers(deps.Accounts, logger)
		group := engine.Group("/api")
		group.POST("/register", api.Register)
		group.POST("/login", api.Login)
		group.GET("/me", gate, api.Me)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
