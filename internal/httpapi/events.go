package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cartsync"
)

// StreamEvents отдаёт SSE-поток событий cartUpdated.
// Первое событие — текущее состояние; далее корзина перечитывается на каждое уведомление.
// При отключении клиента подписка снимается.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.events == nil {
		abortWithError(c, errEventsDisabled, nil)
		return
	}

	updates := make(chan domain.ChangeEvent, h.eventsBuffer)
	push := func(lines []domain.CartLine) {
		event := domain.NewChangeEvent(h.store.Identity(), lines, domain.EventSourceLocal, h.now())
		select {
		case updates <- event:
		default:
			h.logger.WithField("key", event.Key).Warn("sse client is slow, dropping cart update")
		}
	}

	view := cartsync.NewView(h.store, h.events, cartsync.WithOnChange(push))
	view.Open()
	defer view.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(domain.CartUpdatedEvent, domain.NewChangeEvent(h.store.Identity(), view.Lines(), domain.EventSourceLocal, h.now()))
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-updates:
			c.SSEvent(domain.CartUpdatedEvent, event)
			return true
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
}
