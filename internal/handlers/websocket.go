package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"

	"raffle/internal/realtime"
	"raffle/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS subscribes a presentation screen to the caller's raffle session.
// The current state is sent first, then every change as it happens.
func (h *HTTPHandler) ServeWS(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live updates are disabled", "kind": "not_found"})
		return
	}

	id := tenantID(c)
	initial, err := json.Marshal(realtime.Message{
		Type:    services.EventRaffleState,
		Payload: services.StateEvent{Action: "snapshot", Status: h.service.Status(id)},
		Room:    id,
	})
	if err != nil {
		logger.Errorf("Error encoding snapshot for session %s: %v", id, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warningf("Failed to upgrade connection for session %s: %v", id, err)
		return
	}
	h.hub.Attach(conn, id, initial)
}
