package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams run events to WebSocket clients.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleRunStream upgrades the connection and streams the live event feed
// for one run until the client disconnects or the run's events stop.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("websocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan domain.Event, 32)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := h.subscribe(ctx, runID, eventChan); err != nil {
		h.logger.Error("failed to subscribe to run events",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// subscribe registers a handler on the run event topic filtered to runID.
// Events are dropped rather than blocking publishers when the client reads
// too slowly.
func (h *Handler) subscribe(ctx context.Context, runID string, ch chan<- domain.Event) error {
	return h.eventBus.Subscribe(ctx, domain.TopicRunEvents, func(ctx context.Context, event domain.Event) error {
		if event.RunID != runID {
			return nil
		}

		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	})
}
