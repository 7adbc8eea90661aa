package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcpilot/mcpilot/internal/events"
)

// streamEvents fans the event bus out to the client as server-sent events.
// Each event is named after its kind with the full payload as JSON data. The
// stream ends when the client disconnects; slow clients lose droppable
// progress events per the bus contract, never terminal ones.
func (r *Router) streamEvents(c *gin.Context) {
	if r.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not available"})
		return
	}

	sub, cancel := r.bus.Subscribe(events.DefaultSubscriberBuffer)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
