package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	auth "github.com/mind-engage/quizsync/internal/auth/middleware"
	"github.com/mind-engage/quizsync/internal/lock"
	"github.com/mind-engage/quizsync/internal/metrics"
	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/tracing"
)

type Syncer interface {
	HasPendingWork(ctx context.Context, siteID string, quizID int64) bool
	Sync(ctx context.Context, q quiz.Quiz, askPreflight bool, siteID string) (quiz.SyncResult, error)
	SyncIfStale(ctx context.Context, q quiz.Quiz, askPreflight bool, siteID string) (*quiz.SyncResult, error)
	SyncAllPending(ctx context.Context, siteID string, force bool) error
	Warnings(ctx context.Context, siteID string, quizID int64) ([]string, error)
	ClearWarnings(ctx context.Context, siteID string, quizID int64) error
}

type Sites interface {
	IDs() []string
}

// QuizLookup fetches quiz metadata from the site.
type QuizLookup func(ctx context.Context, siteID string, courseID, quizID int64) (quiz.Quiz, error)

type Server struct {
	Sync        Syncer
	Locks       lock.Registry
	Sites       Sites
	Quizzes     QuizLookup
	Auth        *auth.AuthService
	Creds       auth.Credentials
	Events      http.Handler // WebSocket endpoint
	Journal     EventLog
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Ready       func(ctx context.Context) error
	Log         *zap.Logger
}

func (s *Server) Routes() http.Handler {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(tracing.Middleware, s.countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", s.Metrics.Handler())
	r.Post("/auth/login", auth.LoginHandler(s.Auth, s.Creds))

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(s.Auth))

		if s.Events != nil {
			pr.Handle("/events", s.Events)
		}
		if s.Journal != nil {
			pr.Get("/events/log", EventLogHandler(s.Journal))
		}

		pr.Route("/sites/{siteID}/quizzes/{quizID}", func(qr chi.Router) {
			qr.Use(s.knownSite)
			qr.Get("/pending", PendingHandler(s.Sync))
			qr.Get("/warnings", WarningsHandler(s.Sync))

			qr.Group(func(ar chi.Router) {
				ar.Use(auth.RequireRole(auth.RoleAdmin))
				ar.Post("/sync", SyncQuizHandler(s.Sync, s.Quizzes))
				ar.Delete("/warnings", ClearWarningsHandler(s.Sync))
				ar.Post("/lock", BlockHandler(s.Locks))
				ar.Delete("/lock", UnblockHandler(s.Locks))
			})
		})

		pr.With(auth.RequireRole(auth.RoleAdmin)).Post("/sync", SyncAllHandler(s.Sync, s.Sites))
	})
	return r
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
}

func (s *Server) knownSite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasSite(s.Sites, chi.URLParam(r, "siteID")) {
			http.Error(w, "unknown site", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasSite(sites Sites, id string) bool {
	if sites == nil {
		return false
	}
	for _, s := range sites.IDs() {
		if s == id {
			return true
		}
	}
	return false
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.Metrics.Request(r.Method, route, ww.Status())
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
