package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"oreai/backend/internal/agent"
	"oreai/backend/internal/auth"
	"oreai/backend/internal/chat"
	"oreai/backend/internal/config"
	"oreai/backend/internal/llm"
	"oreai/backend/internal/session"
)

func NewRouter(cfg config.Config, database *sql.DB, tools ToolResolver, systemPrompt string, log *slog.Logger) http.Handler {
	store := session.NewStore(database)
	verifier := auth.NewVerifier(cfg)
	repo := chat.NewRepository(database)
	limiter := chat.NewRateLimiter(repo)
	runner := agent.New(llm.NewClient(cfg, nil), cfg.Model, systemPrompt)
	h := NewHandler(cfg, store, verifier, repo, limiter, tools, runner, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Test-Email", "X-Test-Google-Sub"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(authR chi.Router) {
			authR.Post("/google", h.AuthGoogle)
			authR.With(h.RequireSession).Get("/me", h.AuthMe)
			authR.With(h.RequireSession).Post("/logout", h.AuthLogout)
		})

		api.Group(func(p chi.Router) {
			p.Use(h.RequireSession)
			p.Post("/chat", h.Chat)
			p.Get("/chats", h.ListChats)
			p.Get("/chats/{chatID}", h.GetChat)
			p.Delete("/chats/{chatID}", h.DeleteChat)
		})
	})

	return r
}
