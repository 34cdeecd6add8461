package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-dirchat/internal/auth"
	"github.com/npezzotti/go-dirchat/internal/config"
	"github.com/npezzotti/go-dirchat/internal/database"
	"github.com/npezzotti/go-dirchat/internal/files"
	"github.com/npezzotti/go-dirchat/internal/server"
	"github.com/rs/zerolog"
)

const defaultMaxUploadBytes = 16 << 20

type GoChatApp struct {
	log            zerolog.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	authn          auth.Authenticator
	files          *files.DiskStore
	signingKey     []byte
	sessionTTL     time.Duration
	allowedOrigins []string
	maxUploadBytes int64
}

// NewGoChatApp wires the HTTP surface. metrics may be nil, in which case
// /metrics is not served.
func NewGoChatApp(logger zerolog.Logger, cs *server.ChatServer, db database.ChatRepository, authn auth.Authenticator, store *files.DiskStore, metrics http.Handler, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		authn:          authn,
		files:          store,
		signingKey:     cfg.SigningKey,
		sessionTTL:     cfg.SessionTTL,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.Uploads.MaxSizeMB << 20,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = defaultExp
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(s.errorHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	})

	r.Get("/healthz", s.healthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/ws", s.serveWs)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Get("/auth/logout", s.authMiddleware(s.logout))
		r.Get("/auth/session", s.authMiddleware(s.session))

		r.Get("/inbox", s.authMiddleware(s.inbox))
		r.Get("/unread", s.authMiddleware(s.unreadCount))
		r.Get("/users/online", s.authMiddleware(s.onlineUsers))
		r.Get("/users/{id}", s.authMiddleware(s.userInfo))

		r.Post("/messages", s.authMiddleware(s.sendMessage))
		r.Get("/messages/{peerId}", s.authMiddleware(s.history))
		r.Post("/messages/{id}/read", s.authMiddleware(s.markRead))
		r.Post("/conversations/{senderId}/read", s.authMiddleware(s.markAllRead))

		r.Post("/upload/{recipientId}", s.authMiddleware(s.uploadAndSend))
		r.Post("/files", s.authMiddleware(s.uploadFile))
		r.Get("/files/{id}", s.authMiddleware(s.downloadFile))

		r.Get("/admin/stats", s.authMiddleware(s.adminStats))
	})

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(r)

	s.srv = &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
