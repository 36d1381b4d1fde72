package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/auth"
)

// ContextKeyIdentity is the gin context key holding the authenticated auth.Identity.
const ContextKeyIdentity = "identity"

// authErrorMessage is the only detail a refused caller learns.
const authErrorMessage = "authentication error"

// CredentialVerifier resolves a bearer token to a live identity.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (auth.Identity, error)
}

// HandshakeGate authenticates a request before anything else runs on it.
// The token is read from the single configured header, either as
// "Bearer <token>" or bare. Any failure ends the request with 401.
func HandshakeGate(verifier CredentialVerifier, header string, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader(header))

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Debug().
				Err(err).
				Str("path", c.Request.URL.Path).
				Str("remote", c.ClientIP()).
				Msg("handshake refused")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: authErrorMessage})
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Next()
	}
}

func extractToken(value string) string {
	value = strings.TrimSpace(value)
	if scheme, rest, ok := strings.Cut(value, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return value
}

// identityFrom returns the identity stored by HandshakeGate.
func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ContextKeyIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
