package server

import (
	"context"

	"tradeflow/logger"
	"tradeflow/models"
)

// hub fans one channel's events out to its connected clients. Slow clients
// are dropped individually so one stalled listener never blocks the rest.
type hub struct {
	name       string
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan models.Event
	log        *logger.Entry
}

func newHub(name string) *hub {
	return &hub{
		name:       name,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan models.Event, 256),
		log:        logger.GetLogger().WithComponent("hub").WithFields(logger.Fields{"channel": name}),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.WithFields(logger.Fields{"clients": len(h.clients)}).Info("Client connected")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case event := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- event:
					logger.IncrementBroadcastSent(1)
				default:
					// client too slow, drop it so the hub never blocks
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("Dropped slow client")
				}
			}
		}
	}
}
