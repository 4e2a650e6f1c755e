package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/attachments"
	"github.com/joescharf/bugsage/internal/auth"
	"github.com/joescharf/bugsage/internal/duplicate"
	"github.com/joescharf/bugsage/internal/lifecycle"
	"github.com/joescharf/bugsage/internal/llm"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/project"
	"github.com/joescharf/bugsage/internal/report"
	"github.com/joescharf/bugsage/internal/store"
)

const (
	// SessionCookie carries the session token for browser clients.
	SessionCookie = "bugsage_session"
	// DefaultPageSize is the number of bugs per list page.
	DefaultPageSize = 20
	// SearchLimit caps free-text search results.
	SearchLimit = 20
)

// Triager suggests a priority for a bug report.
type Triager interface {
	TriageBug(ctx context.Context, title, description string, projects []string) (*llm.Triage, error)
}

// Options configures a Server. Nil services are built from the store with
// default settings.
type Options struct {
	Engine      *lifecycle.Engine
	Auth        *auth.Service
	Attachments *attachments.Storage
	Triager     Triager
	Logger      *slog.Logger
	PageSize    int
	SessionTTL  time.Duration
}

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	engine   *lifecycle.Engine
	auth     *auth.Service
	projects *project.Service
	reports  *report.Service
	files    *attachments.Storage
	triager  Triager
	logger   *slog.Logger
	pageSize int
	ttl      time.Duration
}

// NewServer creates a new API server.
// The Triager may be nil if no API key is configured.
func NewServer(s store.Store, opts Options) *Server {
	srv := &Server{
		store:    s,
		engine:   opts.Engine,
		auth:     opts.Auth,
		projects: project.NewService(s),
		reports:  report.NewService(s),
		files:    opts.Attachments,
		triager:  opts.Triager,
		logger:   opts.Logger,
		pageSize: opts.PageSize,
		ttl:      opts.SessionTTL,
	}
	if srv.ttl <= 0 {
		srv.ttl = auth.DefaultSessionTTL
	}
	if srv.engine == nil {
		srv.engine = lifecycle.NewEngine(s, duplicate.NewDetector(s, duplicate.DefaultThreshold, duplicate.DefaultLimit))
	}
	if srv.auth == nil {
		srv.auth = auth.NewService(s, srv.ttl)
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.pageSize <= 0 {
		srv.pageSize = DefaultPageSize
	}
	return srv
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", s.register)
	mux.HandleFunc("POST /api/v1/auth/login", s.login)
	mux.HandleFunc("POST /api/v1/auth/logout", s.logout)
	mux.Handle("GET /api/v1/auth/me", s.requireAuth(s.me))

	mux.Handle("GET /api/v1/users", s.requireAuth(s.listUsers))

	mux.Handle("GET /api/v1/projects", s.requireAuth(s.listProjects))
	mux.Handle("POST /api/v1/projects", s.requireAuth(s.createProject))

	mux.Handle("GET /api/v1/bugs", s.requireAuth(s.listBugs))
	mux.Handle("POST /api/v1/bugs", s.requireAuth(s.createBug))
	mux.Handle("GET /api/v1/bugs/search", s.requireAuth(s.searchBugs))
	mux.Handle("POST /api/v1/bugs/triage", s.requireAuth(s.triageBug))
	mux.Handle("GET /api/v1/bugs/{id}", s.requireAuth(s.getBug))
	mux.Handle("PATCH /api/v1/bugs/{id}", s.requireAuth(s.updateBug))
	mux.Handle("DELETE /api/v1/bugs/{id}", s.requireAuth(s.deleteBug))
	mux.Handle("POST /api/v1/bugs/{id}/status", s.requireAuth(s.transitionStatus))
	mux.Handle("POST /api/v1/bugs/{id}/comments", s.requireAuth(s.addComment))
	mux.Handle("GET /api/v1/bugs/{id}/history", s.requireAuth(s.bugHistory))
	mux.Handle("POST /api/v1/bugs/{id}/attachments", s.requireAuth(s.uploadAttachment))

	mux.Handle("GET /api/v1/board", s.requireAuth(s.board))

	mux.Handle("GET /api/v1/dashboard/stats", s.requireAuth(s.dashboardStats))
	mux.Handle("GET /api/v1/dashboard/recent", s.requireAuth(s.dashboardRecent))
	mux.Handle("GET /api/v1/dashboard/charts", s.requireAuth(s.dashboardCharts))

	return s.recoveryMiddleware(s.loggingMiddleware(corsMiddleware(mux)))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with its status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type identityKey struct{}

// withIdentity returns a context carrying the acting user.
func withIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom returns the acting user stored by requireAuth.
func identityFrom(ctx context.Context) models.Identity {
	id, _ := ctx.Value(identityKey{}).(models.Identity)
	return id
}

// sessionToken reads the token from the Authorization header or the session
// cookie.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// requireAuth rejects requests without a valid session and passes the
// acting identity to next through the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with its mapped status. Internal failures are logged
// and reported without detail.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

func (s *Server) cookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func pathID(r *http.Request) string {
	return r.PathValue("id")
}
