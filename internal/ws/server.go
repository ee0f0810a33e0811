package ws

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"helpdesk/internal/models"
)

type Server struct {
	hub      *Hub
	snapshot func() []models.ViewUpdate
	upgrader *websocket.Upgrader
	log      *slog.Logger
}

// NewServer serves the live dashboard feed. snapshot supplies the updates a
// viewer receives right after connecting.
func NewServer(hub *Hub, snapshot func() []models.ViewUpdate, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:      hub,
		snapshot: snapshot,
		upgrader: &websocket.Upgrader{
			CheckOrigin: sameHost,
		},
		log: logger.With("component", "live"),
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error upgrading to websocket", "error", err)
		return
	}

	viewerID := uuid.NewString()
	s.log.Debug("viewer connected", "viewer_id", viewerID)

	// Join before the snapshot so no update falls between the two.
	c := NewConnection(s.hub, conn, viewerID, nil)
	if s.snapshot != nil {
		c.initial = s.snapshot()
	}
	if err := c.Handle(r.Context()); err != nil {
		s.log.Debug("viewer disconnected", "viewer_id", viewerID, "error", err)
	}
}

// sameHost accepts requests without Origin (non-browser clients) and
// browser requests from the dashboard itself.
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
