package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/povchingiz/google-meet-recording/internal/auth"
	"github.com/povchingiz/google-meet-recording/internal/config"
	"github.com/povchingiz/google-meet-recording/internal/metrics"
	"github.com/povchingiz/google-meet-recording/internal/model"
	"github.com/povchingiz/google-meet-recording/internal/orchestrator"
)

const (
	serviceName    = "Google Meet Recording API"
	serviceVersion = "1.0.0"
)

// Service is the session surface the HTTP layer needs from the orchestrator.
type Service interface {
	StartRecording(ctx context.Context, in orchestrator.StartInput) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	ListSessions(ctx context.Context) ([]*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type Server struct {
	cfg config.Config
	svc Service
}

func NewRouter(cfg config.Config, svc Service) http.Handler {
	s := &Server{cfg: cfg, svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/", s.handleRoot)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Group(func(authed chi.Router) {
		authed.Use(auth.Optional(cfg.JWTSecret))
		authed.Post("/start-recording", s.handleStartRecording)
		authed.Get("/status/{sessionID}", s.handleStatus)
		authed.Get("/sessions", s.handleListSessions)
		authed.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	})

	return r
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	payload.Error.RequestID = middleware.GetReqID(r.Context())
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
