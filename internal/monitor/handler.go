package monitor

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aausmartlab/btorchestrator/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests on the Groot2-style feed route into
// registered monitor viewers.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler returns a Handler broadcasting through hub.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log.WithFields(zap.String("component", "monitor_handler"))}
}

// HandleConnection upgrades the request, registers the resulting Client
// with the hub, and runs its write pump in the background while the read
// pump blocks the handler goroutine.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade monitor connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	h.logger.Debug("monitor viewer connected", zap.String("client_id", clientID), zap.String("remote_addr", c.Request.RemoteAddr))

	go client.WritePump()
	client.ReadPump()
}

// RegisterRoutes adds the monitor feed route to router at path.
func (h *Handler) RegisterRoutes(router *gin.Engine, path string) {
	router.GET(path, h.HandleConnection)
}
