// Package apiserver implements the execution API server of §4.11: an HTTP
// front end over the button registry and the execution index, exposing
// idempotent, tenant-scoped submission and streaming status for casts.
//
// Grounded on Aureuma-si/apps/ReleaseParty/backend/internal/api/server.go's
// Server-struct-plus-Router()-method shape over github.com/go-chi/chi/v5.
package apiserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/spellruntime/spell/internal/entitlement"
	"github.com/spellruntime/spell/internal/index"
	"github.com/spellruntime/spell/internal/obslog"
	"github.com/spellruntime/spell/internal/policy"
	"github.com/spellruntime/spell/internal/registry"
	"github.com/spellruntime/spell/internal/trust"
)

// APIError is the uniform JSON error body returned by every handler.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

// Config is the full set of knobs the execution API server reads from
// SPELL_API_* environment variables at startup.
type Config struct {
	Home string
	Addr string

	BodyLimitBytes int64

	RateLimitWindowMs  int
	RateLimitMax       int
	TenantRateLimitMax int

	MaxConcurrentExecutions       int
	TenantMaxConcurrentExecutions int

	AuthTokens   []string
	AuthKeys     []string
	JWTPublicKey string // base64url ed25519 SPKI; non-empty enables the EdDSA JWT auth mode

	LogRetentionDays int
	LogMaxFiles      int

	ForceRequireSignature bool
	AllowBilling          bool
	PolicyCELOn           bool

	IndexDSN  string // non-empty selects index.PostgresStore over the file default
	RedisAddr string // non-empty (host:port) selects RedisRateLimiter over the in-memory default
}

// Server wires the button registry, execution index, and gate stores behind
// the chi router built by Router().
type Server struct {
	cfg Config

	buttons  *registry.Registry
	idx      index.Store
	trust    *trust.Store
	licenses *entitlement.LicenseStore
	policy   *policy.Policy

	limiter     RateLimiter
	concurrency *ConcurrencyLimiter
	bus         *EventBus
	auth        *Authenticator
	audit       *AuditLog

	logger *slog.Logger
}

// New constructs a Server from already-loaded dependencies. Callers (cmd/spell)
// are responsible for loading the button registry, opening the index store,
// and constructing the trust/license/policy stores before calling this.
func New(cfg Config, buttons *registry.Registry, idx index.Store, trustStore *trust.Store,
	licenses *entitlement.LicenseStore, pol *policy.Policy, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = obslog.New(os.Stderr, "spell-api")
	}

	var limiter RateLimiter = NewMemoryRateLimiter()
	if cfg.RedisAddr != "" {
		limiter = NewRedisRateLimiter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	auditLog, err := NewAuditLog(cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("apiserver: opening audit log: %w", err)
	}

	auth, err := NewAuthenticator(cfg.AuthTokens, cfg.AuthKeys, cfg.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("apiserver: configuring authenticator: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		buttons:     buttons,
		idx:         idx,
		trust:       trustStore,
		licenses:    licenses,
		policy:      pol,
		limiter:     limiter,
		concurrency: NewConcurrencyLimiter(cfg.MaxConcurrentExecutions, cfg.TenantMaxConcurrentExecutions),
		bus:         NewEventBus(),
		auth:        auth,
		audit:       auditLog,
		logger:      logger,
	}
	return s, nil
}

// Router builds the chi mux for this server, following the
// middleware-chain-then-route-group pattern of the grounding server.go.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	if s.cfg.BodyLimitBytes > 0 {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				req.Body = http.MaxBytesReader(w, req.Body, s.cfg.BodyLimitBytes)
				next.ServeHTTP(w, req)
			})
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Get("/buttons", s.handleListButtons)

		r.Route("/spell-executions", func(r chi.Router) {
			r.With(s.idempotencyMiddleware, s.concurrencyMiddleware).Post("/", s.handleSubmitExecution)
			r.Get("/", s.handleListExecutions)
			r.Get("/events", s.handleListExecutionEvents)
			r.Get("/{id}", s.handleGetExecution)
			r.Get("/{id}/output", s.handleGetExecutionOutput)
			r.Get("/{id}/events", s.handleExecutionEvents)
			r.Post("/{id}/cancel", s.handleCancelExecution)
			r.Post("/{id}/retry", s.handleRetryExecution)
		})

		r.Get("/tenants/{tenant_id}/usage", s.handleTenantUsage)
	})

	r.Get("/", s.handleUIIndex)
	r.Get("/ui/*", s.handleUIIndex)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(started))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, apiErr *APIError) {
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, apiErr)
}
