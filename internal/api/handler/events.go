package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/WipeLedger/internal/events"
)

// EventsHandler streams ledger events over a websocket.
type EventsHandler struct {
	hub *events.Hub
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Register mounts GET /events on the given router group.
func (h *EventsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/events", func(c *gin.Context) {
		h.hub.ServeHTTP(c.Writer, c.Request)
	})
}
