package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatgate/internal/core"
	"github.com/vovakirdan/chatgate/internal/proto"
)

const (
	msgInvalidPayload    = "invalid payload"
	msgRateLimitExceeded = "rate limit exceeded"
)

// WSOptions tune accepted connections.
type WSOptions struct {
	MaxMessageBytes    int64
	OutboundBuffer     int
	RateLimitPerSecond float64
	RateLimitBurst     int
	// InsecureSkipVerify disables the Origin check.
	InsecureSkipVerify bool
}

// WSHandler upgrades authenticated HTTP requests and bridges them to the hub.
type WSHandler struct {
	hub    *core.Hub
	router *core.Router
	log    *zerolog.Logger
	opts   WSOptions
	active sync.WaitGroup
}

// NewWSHandler builds a new WebSocket handler. It must run behind HandshakeGate.
func NewWSHandler(hub *core.Hub, router *core.Router, logger *zerolog.Logger, opts WSOptions) *WSHandler {
	return &WSHandler{hub: hub, router: router, log: logger, opts: opts}
}

// Wait blocks until every connection served by Handle has returned, or
// until ctx is done. http.Server.Shutdown does not track hijacked
// connections.
func (h *WSHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is the gin handler for the WebSocket route.
func (h *WSHandler) Handle(c *gin.Context) {
	h.active.Add(1)
	defer h.active.Done()

	identity, ok := identityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: authErrorMessage})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: h.opts.InsecureSkipVerify,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	client := core.NewClient(uuid.NewString(), identity, h.opts.OutboundBuffer)
	if err := h.hub.RegisterClient(client); err != nil {
		h.log.Error().Err(err).Str("conn_id", client.ID).Msg("register client")
		conn.Close(websocket.StatusInternalError, "registration failed")
		return
	}
	// Session cleanup is bound to the connection closing, whatever the cause.
	defer h.hub.UnregisterClient(client)

	h.log.Info().Str("conn_id", client.ID).Str("user_id", identity.ID).Msg("client connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("conn_id", client.ID).Str("user_id", identity.ID).Msg("client disconnected")
	conn.Close(status, reason)
}

// readLoop handles inbound events one at a time, in arrival order.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.opts.RateLimitPerSecond, h.opts.RateLimitBurst)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			h.reject(client, msgRateLimitExceeded)
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("malformed inbound")
			h.reject(client, msgInvalidPayload)
			continue
		}

		cmd, err := inboundToCommand(inbound)
		if err != nil {
			if errors.Is(err, errUnknownEvent) {
				h.log.Debug().Str("conn_id", client.ID).Str("event", inbound.Event).Msg("unknown event")
				h.reject(client, errUnknownEvent.Error())
				continue
			}
			h.log.Debug().Err(err).Str("conn_id", client.ID).Str("event", inbound.Event).Msg("failed to map inbound")
			h.reject(client, msgInvalidPayload)
			continue
		}

		h.router.Handle(ctx, client, cmd)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) reject(client *core.Client, msg string) {
	h.hub.Emit(client, &core.Event{Kind: core.EventChatError, Error: msg})
}
