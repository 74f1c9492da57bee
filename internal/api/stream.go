package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/auth"
	"github.com/lalith-99/tenantgate/internal/middleware"
	"github.com/lalith-99/tenantgate/internal/models"
	"github.com/lalith-99/tenantgate/internal/stream"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10

	defaultStreamRevalidate = 30 * time.Second
)

// StreamHandler pushes the bound tenant's machine events over a websocket.
//
// The access token is checked by the Authenticate middleware once, at
// connect. A stream can outlive that check by hours, so the handler also
// closes it when the token expires and re-validates the token every
// revalidate interval; a token revoked by logout stops the stream within
// one interval.
type StreamHandler struct {
	broker     stream.Broker
	validator  *auth.Validator
	revalidate time.Duration
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewStreamHandler uses a default interval when revalidate is zero.
func NewStreamHandler(broker stream.Broker, validator *auth.Validator, revalidate time.Duration, logger *zap.Logger) *StreamHandler {
	if revalidate <= 0 {
		revalidate = defaultStreamRevalidate
	}
	return &StreamHandler{
		broker:     broker,
		validator:  validator,
		revalidate: revalidate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Machines handles GET /v1/machines/stream
func (h *StreamHandler) Machines(c *gin.Context) {
	if h.broker == nil {
		respondError(c, h.logger, "", &apperr.Error{Code: apperr.CodeInternal, Message: "streaming disabled"})
		return
	}
	tenantID := middleware.GetTenantID(c)
	claims := middleware.GetClaims(c)
	token := middleware.GetAccessToken(c)
	if claims == nil || claims.ExpiresAt == nil {
		respondError(c, h.logger, "", apperr.ErrTokenMalformed)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.broker.Subscribe(ctx, tenantID)
	if err != nil {
		respondError(c, h.logger, "failed to subscribe", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The read loop only handles control frames; it ends the stream when
	// the client goes away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	recheck := time.NewTicker(h.revalidate)
	defer recheck.Stop()
	expired := time.NewTimer(time.Until(claims.ExpiresAt.Time))
	defer expired.Stop()

	closeWith := func(code int, reason string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(streamWriteWait))
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-recheck.C:
			if _, err := h.validator.Validate(ctx, token, models.TokenAccess); err != nil {
				appErr := apperr.As(err)
				if appErr == nil {
					// The revocation store could not answer; fail closed.
					h.logger.Error("revalidate stream token", zap.Error(err))
					closeWith(websocket.CloseInternalServerErr, "token check failed")
					return
				}
				closeWith(websocket.ClosePolicyViolation, appErr.Message)
				return
			}
		case <-expired.C:
			closeWith(websocket.ClosePolicyViolation, apperr.ErrTokenExpired.Message)
			return
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		}
	}
}
