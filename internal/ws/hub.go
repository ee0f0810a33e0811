package ws

import (
	"log/slog"
	"sync"

	"helpdesk/internal/models"
)

const viewerBuffer = 100

// Hub fans console updates out to every connected dashboard viewer.
type Hub struct {
	viewers map[string]chan models.ViewUpdate
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		viewers: make(map[string]chan models.ViewUpdate),
	}
}

func (h *Hub) Join(viewerID string) chan models.ViewUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.viewers[viewerID]; ok {
		close(ch)
	}
	ch := make(chan models.ViewUpdate, viewerBuffer)
	h.viewers[viewerID] = ch
	return ch
}

func (h *Hub) Leave(viewerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.viewers[viewerID]; ok {
		close(ch)
		delete(h.viewers, viewerID)
	}
}

// Broadcast never blocks: a viewer whose buffer is full misses the update.
func (h *Hub) Broadcast(update models.ViewUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.viewers {
		select {
		case ch <- update:
		default:
			slog.Debug("viewer lagging, update dropped", "viewer_id", id, "type", update.Type)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}
