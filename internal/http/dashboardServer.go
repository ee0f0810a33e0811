package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"helpdesk/internal/api"
	"helpdesk/internal/ws"
)

type DashboardServer struct {
	server *http.Server
	wg     sync.WaitGroup
	log    *slog.Logger
}

// NewMux wires the dashboard routes. Mutating routes only accept same-origin
// browser requests; everything under /api requires a stored login.
func NewMux(apiHandlers *api.API, live *ws.Server, creds credentialSource) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", NewIndexHandler(creds, apiHandlers.StatusHandler))
	mux.HandleFunc("GET /login", LoginPageHandler)

	mux.HandleFunc("GET /api/status", apiHandlers.RequireAuth(apiHandlers.StatusHandler))
	mux.HandleFunc("GET /api/sessions", apiHandlers.RequireAuth(apiHandlers.SessionsHandler))
	mux.HandleFunc("GET /api/rooms", apiHandlers.RequireAuth(apiHandlers.RoomsHandler))
	mux.HandleFunc("POST /api/sessions/{room}/select", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SelectHandler)))
	mux.HandleFunc("DELETE /api/sessions/{room}/history", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.ClearHistoryHandler)))
	mux.HandleFunc("GET /api/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendHandler)))
	mux.HandleFunc("POST /api/messages/{id}/resend", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.ResendHandler)))
	mux.HandleFunc("POST /api/uploads", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadHandler)))
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SubscribeHandler)))
	mux.HandleFunc("GET /api/push/key", apiHandlers.PushKeyHandler)
	mux.HandleFunc("POST /api/notifications/{tag}/open", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.NotificationOpenHandler)))

	// Live view updates
	mux.HandleFunc("/api/live", apiHandlers.RequireAuth(live.HandleConnections))

	return mux
}

func NewDashboardServer(handler http.Handler, addr string, logger *slog.Logger) *DashboardServer {
	if addr == "" {
		addr = "localhost:8090"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DashboardServer{
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
		log: logger.With("component", "dashboard"),
	}
}

func (s *DashboardServer) Start() error {
	s.log.Info("dashboard started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *DashboardServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
