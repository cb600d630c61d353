package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/talk-practice/backend/internal/config"
	"github.com/zhouzirui/talk-practice/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/talk-practice/backend/internal/middleware"
	sessionService "github.com/zhouzirui/talk-practice/backend/internal/service/session"
	"github.com/zhouzirui/talk-practice/backend/pkg/utils"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires HTTP routes to core services. pinger may be nil.
func NewRouter(serverCfg config.ServerConfig, sessionSvc *sessionService.Service, pinger Pinger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.AllowedOrigins))

	sessionHandler := session.New(sessionSvc, serverCfg.AllowedOrigins)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", handleHealth(pinger))

		// Register session routes
		sessionHandler.RegisterRoutes(api)
	})

	return r
}

func handleHealth(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				log.Printf("[health] store ping failed: %v", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
