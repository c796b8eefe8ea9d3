package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/persona-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/handler/persona"
	"github.com/zhouzirui/persona-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/persona-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/persona-chat/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/persona-chat/backend/internal/service/session"
	"github.com/zhouzirui/persona-chat/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	Personas persona.Catalog
	Sessions *sessionService.Service
	Chat     *chatService.Service
	Turns    stream.TurnReader
	Limiter  *middlewarePkg.LimiterPool
	// WatchInterval is how often conversation watchers poll the log.
	WatchInterval time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	personaHandler := persona.New(deps.Personas)
	chatHandler := chat.New(deps.Sessions, deps.Chat, deps.Limiter)
	streamHandler := stream.New(deps.Turns, deps.WatchInterval)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
