// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"psu-service/internal/model"
	"psu-service/internal/utils"
)

// WebSocketHandler streams instrument events and readings to clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	logger      *utils.ServiceLogger
	eventBus    *EventBus
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// In production, implement proper origin checking
			return true
		},
	}

	handler := &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:    NewEventBus(logger),
	}

	// Start event bus
	go handler.eventBus.Start()

	return handler
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/readings", h.HandleReadingConnection)
}

// HandleEventConnection upgrades a client onto the instrument event stream
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	h.handleConnection(c, StreamEvents)
}

// HandleReadingConnection upgrades a client onto the live reading stream
func (h *WebSocketHandler) HandleReadingConnection(c *gin.Context) {
	h.handleConnection(c, StreamReadings)
}

func (h *WebSocketHandler) handleConnection(c *gin.Context, stream string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			zap.Error(err),
			zap.String("stream", stream),
		)
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Stream:      stream,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.ClientIP(),
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("stream", stream),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientRead drains inbound frames and detects disconnect
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}
	}
}

// handleClientWrite pumps outbound messages and keepalive pings
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastEvent publishes an instrument event to the event stream
func (h *WebSocketHandler) BroadcastEvent(event model.InstrumentEvent) {
	h.eventBus.Publish(event)

	h.broadcastToStream(StreamEvents, &WebSocketMessage{
		Type:      string(event.EventType),
		Data:      event,
		Timestamp: time.Now(),
	})
}

// BroadcastReadings pushes one sampling cycle to the reading stream
func (h *WebSocketHandler) BroadcastReadings(readings []*model.Reading) {
	h.broadcastToStream(StreamReadings, &WebSocketMessage{
		Type:      "readings",
		Data:      readings,
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) broadcastToStream(stream string, message *WebSocketMessage) {
	clients := h.connections.GetStreamClients(stream)
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- payload:
		default:
			// Client send buffer full, drop the frame
		}
	}
}

// ConnectionCount returns the number of attached WebSocket clients
func (h *WebSocketHandler) ConnectionCount() int {
	return h.connections.Count()
}
