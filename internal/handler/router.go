package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/johndosdos/relay/internal"
	"github.com/johndosdos/relay/internal/auth"
	ratelimiter "github.com/johndosdos/relay/internal/rate_limiter"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Repo           store.Repository
	Credentials    *auth.Credentials
	Tokens         *auth.Issuer
	Hub            *ws.Hub
	AuthLimiter    ratelimiter.Limiter // nil disables auth throttling
	AllowedOrigins []string
	MaxFrameBytes  int64
	TrustProxy     bool // honour X-Forwarded-For / X-Real-IP
}

// NewRouter wires every route of the relay.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	if d.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(internal.CORS(d.AllowedOrigins))

	r.Get("/readyz", ServeReady(d.Repo))

	r.Group(func(r chi.Router) {
		if d.AuthLimiter != nil {
			r.Use(ratelimiter.Middleware(d.AuthLimiter))
		}
		r.Post("/register", SubmitRegister(d.Credentials))
		r.Post("/login", SubmitLogin(d.Credentials, d.Tokens))
	})

	r.Get("/messages/{userId}", ServeMessages(d.Repo))
	r.Get("/ws", internal.Middleware(ServeWs(d.Hub, d.Repo, d.MaxFrameBytes, d.AllowedOrigins), d.Tokens))

	return r
}
