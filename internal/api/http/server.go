package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/nestfind/nestfind/internal/application/audit"
	appAuth "github.com/nestfind/nestfind/internal/application/auth"
	"github.com/nestfind/nestfind/internal/application/orchestrator"
	appUser "github.com/nestfind/nestfind/internal/application/user"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	orch                *orchestrator.Orchestrator
	auditSvc            *appAudit.Service
	authSvc             *appAuth.Service
	userSvc             *appUser.Service
	notifier            orchestrator.Notifier
	metrics             http.Handler
	logger              zerolog.Logger
	sessionCookieName   string
	sessionCookieSecure bool
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithMetrics exposes h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithNotifier replaces the default log notifier.
func WithNotifier(n orchestrator.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

func WithSessionCookie(name string, secure bool) Option {
	return func(s *Server) {
		s.sessionCookieName = name
		s.sessionCookieSecure = secure
	}
}

func NewServer(
	orch *orchestrator.Orchestrator,
	auditSvc *appAudit.Service,
	authSvc *appAuth.Service,
	userSvc *appUser.Service,
	logger zerolog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		orch:              orch,
		auditSvc:          auditSvc,
		authSvc:           authSvc,
		userSvc:           userSvc,
		logger:            logger.With().Str("service", "http").Logger(),
		sessionCookieName: "nestfind_session",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = orchestrator.NewLogNotifier(logger)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/bootstrap", s.bootstrapAdmin)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/logout", s.logout)
				r.Get("/me", s.me)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuth)
			r.Get("/{kind}/{id}", s.getEntity)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/properties", s.createProperty)
			r.Post("/properties/{id}/visits", s.requestVisit)
			r.Post("/properties/{id}/offers", s.submitOffer)
			r.Post("/agent-applications", s.submitApplication)
			r.Post("/{kind}/{id}/{trigger}", s.fireTrigger)

			r.Get("/audit", s.queryAudit)
			r.Get("/audit/{auditId}/verify", s.verifyAudit)
		})
	})

	return r
}

var entityKinds = map[string]lifecycle.EntityType{
	"properties":         lifecycle.EntityProperty,
	"visits":             lifecycle.EntityVisit,
	"offers":             lifecycle.EntityOffer,
	"reservations":       lifecycle.EntityReservation,
	"agent-applications": lifecycle.EntityAgentApplication,
}

func entityKindParam(r *http.Request) (lifecycle.EntityType, bool) {
	et, ok := entityKinds[chi.URLParam(r, "kind")]
	return et, ok
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error_code": code,
		"message":    message,
	})
}

var codeStatus = map[lifecycle.Code]int{
	lifecycle.CodeInvalidTransition: http.StatusUnprocessableEntity,
	lifecycle.CodeUnauthorized:      http.StatusForbidden,
	lifecycle.CodeValidation:        http.StatusBadRequest,
	lifecycle.CodeConflict:          http.StatusConflict,
	lifecycle.CodeNotFound:          http.StatusNotFound,
}

// respondEngineError renders a lifecycle.Error with its code, or a generic
// 500 for anything else. Internal details are logged, not returned.
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var le *lifecycle.Error
	if !errors.As(err, &le) {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	status, ok := codeStatus[le.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := map[string]interface{}{
		"error_code": le.Code,
		"message":    le.Message,
	}
	if le.CurrentState != "" {
		body["current_state"] = le.CurrentState
	}
	if le.ValidTriggers != nil {
		body["valid_triggers"] = le.ValidTriggers
	}
	respondJSON(w, status, body)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// readPayload returns the raw request body, or nil for an empty body.
func readPayload(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func etag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}

// parseIfMatch reads an entity version from If-Match. Weak tags are accepted.
func parseIfMatch(r *http.Request) (*int, error) {
	v := strings.TrimSpace(r.Header.Get("If-Match"))
	if v == "" {
		return nil, nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parsePage(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return page, size
}
