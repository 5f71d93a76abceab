package apiserver

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ctxKeyIdentity       contextKey = "identity"
	ctxKeyReplayedRecord contextKey = "replayed_record"
)

func identityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(Identity)
	return id
}

// authMiddleware resolves the caller's Identity and rejects unauthenticated
// or invalid requests before any handler runs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, apiErr := s.auth.Authenticate(r)
		if apiErr != nil {
			writeAPIError(w, apiErr)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyIdentity, id)))
	})
}

// rateLimitMiddleware enforces the global and per-tenant sliding-window
// caps ahead of idempotency/concurrency handling, so throttled requests
// never reach the more expensive stages.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFromContext(r.Context())

		if s.cfg.RateLimitMax > 0 {
			ok, err := s.limiter.Allow(r.Context(), "global", s.cfg.RateLimitWindowMs, s.cfg.RateLimitMax)
			if err != nil || !ok {
				writeAPIError(w, &APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "global rate limit exceeded"})
				return
			}
		}
		if s.cfg.TenantRateLimitMax > 0 && id.TenantID != "" {
			ok, err := s.limiter.Allow(r.Context(), "tenant:"+id.TenantID, s.cfg.RateLimitWindowMs, s.cfg.TenantRateLimitMax)
			if err != nil || !ok {
				writeAPIError(w, &APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "tenant rate limit exceeded"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// idempotencyMiddleware resolves the Idempotency-Key header against the
// execution index before a new execution is created, so a retried
// submission with the same key replays the original record instead of
// casting twice.
func (s *Server) idempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		id := identityFromContext(r.Context())
		rec, found, err := s.idx.FindByIdempotencyKey(id.TenantID, key)
		if err != nil {
			writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()})
			return
		}
		if found {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyReplayedRecord, rec)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// concurrencyMiddleware enforces the global/per-tenant in-flight execution
// caps. A replayed idempotent submission bypasses the cap since it starts
// no new execution.
func (s *Server) concurrencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(ctxKeyReplayedRecord) != nil {
			next.ServeHTTP(w, r)
			return
		}
		id := identityFromContext(r.Context())
		if !s.concurrency.TryAcquire(id.TenantID) {
			writeAPIError(w, &APIError{Status: http.StatusTooManyRequests, Code: "CONCURRENCY_LIMIT", Message: "too many in-flight executions"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
