// Package api exposes the relay over HTTP: a webhook for single events, a
// websocket for long-lived transports, and the operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"relaybot/internal/auth"
	"relaybot/internal/bot"
	"relaybot/internal/logging"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
)

// EventDispatcher is the core entry point the transport hands events to.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *models.Event) models.Outcome
}

// Handler wires HTTP routes to the dispatcher.
type Handler struct {
	dispatcher EventDispatcher
	metrics    *metrics.Metrics
	secret     string
	logger     *slog.Logger
	now        func() time.Time
	upgrader   websocket.Upgrader
}

func NewHandler(dispatcher EventDispatcher, m *metrics.Metrics, secret string, logger *slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		metrics:    m,
		secret:     secret,
		logger:     logging.OrDiscard(logger),
		now:        time.Now,
		upgrader: websocket.Upgrader{
			// access is gated by the secret header, not the origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := router.Group("/api")
	api.Use(auth.WebhookMiddleware(h.secret))
	api.POST("/events", h.postEvent)
	api.GET("/commands", h.listCommands)
	api.GET("/ws", h.serveWS)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listCommands(c *gin.Context) {
	c.JSON(http.StatusOK, bot.Commands())
}

func (h *Handler) postEvent(c *gin.Context) {
	var ev models.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.stamp(&ev)
	out := h.dispatcher.Dispatch(c.Request.Context(), &ev)
	c.JSON(http.StatusOK, out)
}

// stamp fills the transport-owned fields an adapter may leave empty.
func (h *Handler) stamp(ev *models.Event) {
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = h.now()
	}
	if ev.Chat.Type == "" {
		ev.Chat.Type = models.ChatPrivate
	}
}

type wsMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Outcome      *models.Outcome `json:"outcome,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// serveWS reads events off a websocket and writes one outcome per event.
// Events are dispatched concurrently; outcomes may arrive out of order.
func (h *Handler) serveWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger.With("connection_id", connID)

	var writeMu sync.Mutex
	write := func(msg wsMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("websocket write failed", "error", err)
		}
	}
	write(wsMessage{Type: "connected", ConnectionID: connID})

	ctx, cancel := context.WithCancel(c.Request.Context())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			write(wsMessage{Type: "error", Error: "invalid event: send a JSON event object"})
			continue
		}
		h.stamp(&ev)

		inflight.Add(1)
		go func(ev *models.Event) {
			defer inflight.Done()
			out := h.dispatcher.Dispatch(ctx, ev)
			write(wsMessage{Type: "outcome", Outcome: &out})
		}(&ev)
	}
}
