package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spellruntime/spell/internal/cast"
	"github.com/spellruntime/spell/internal/index"
	"github.com/spellruntime/spell/internal/receipt"
)

// runningExecutions tracks the cancel func of every execution currently in
// flight, so a cancel request can actually interrupt the scheduler's
// context rather than merely flipping a status flag.
var runningExecutions sync.Map // execution_id -> context.CancelFunc

func (s *Server) handleListButtons(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	var visible []any
	for _, b := range s.buttons.List() {
		if !b.AllowsRole(id.ActorRole) || !b.AllowsTenant(id.TenantID) {
			continue
		}
		visible = append(visible, b)
	}
	writeJSON(w, http.StatusOK, map[string]any{"buttons": visible})
}

// confirmation carries the caller's acknowledgement of the button's
// required_confirmations, nested per §4.11's body contract.
type confirmation struct {
	RiskAcknowledged    bool `json:"risk_acknowledged"`
	BillingAcknowledged bool `json:"billing_acknowledged"`
}

// submitRequest is the button-id-only submission body: exactly these fields
// are accepted, and DisallowUnknownFields rejects anything else (e.g.
// spell_id) with BAD_REQUEST.
type submitRequest struct {
	ButtonID     string         `json:"button_id"`
	ActorRole    string         `json:"actor_role"`
	Input        map[string]any `json:"input"`
	DryRun       bool           `json:"dry_run"`
	Confirmation *confirmation  `json:"confirmation"`
}

func (req submitRequest) riskAcknowledged() bool {
	return req.Confirmation != nil && req.Confirmation.RiskAcknowledged
}

func (req submitRequest) billingAcknowledged() bool {
	return req.Confirmation != nil && req.Confirmation.BillingAcknowledged
}

// handleSubmitExecution implements the button submission flow: resolve
// button -> spell, merge defaults with request input, enforce
// allowed_roles/allowed_tenants and required_confirmations, then hand off
// to the cast orchestrator in the background.
func (s *Server) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	if replayed, ok := r.Context().Value(ctxKeyReplayedRecord).(*index.Record); ok {
		writeJSON(w, http.StatusOK, replayed)
		return
	}

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.concurrency.Release(identityFromContext(r.Context()).TenantID)
		writeAPIError(w, &APIError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "invalid JSON body"})
		return
	}

	id := identityFromContext(r.Context())
	tenantID, actorRole := id.TenantID, req.ActorRole
	if id.ActorRole != "" {
		// Role-keyed/JWT auth already binds the actor role; it is not
		// client-suppliable in the body.
		actorRole = id.ActorRole
	}

	button, ok := s.buttons.Get(req.ButtonID)
	if !ok {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusNotFound, Code: "BUTTON_NOT_FOUND", Message: "unknown button_id"})
		return
	}
	if !button.AllowsRole(actorRole) {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusForbidden, Code: "ROLE_NOT_ALLOWED", Message: "actor role may not submit this button"})
		return
	}
	if !button.AllowsTenant(tenantID) {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusForbidden, Code: "TENANT_FORBIDDEN", Message: "tenant may not submit this button"})
		return
	}
	if button.RequiredConfirmations.Risk && !req.riskAcknowledged() {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusBadRequest, Code: "RISK_CONFIRMATION_REQUIRED", Message: "this button requires confirmation.risk_acknowledged=true"})
		return
	}
	if button.RequiredConfirmations.Billing && !req.billingAcknowledged() {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusBadRequest, Code: "BILLING_NOT_ALLOWED", Message: "this button requires confirmation.billing_acknowledged=true"})
		return
	}

	mergedInput := button.MergeInput(req.Input)
	inputJSON, err := json.Marshal(mergedInput)
	if err != nil {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "input could not be encoded"})
		return
	}

	executionID := uuid.NewString()
	now := time.Now().UTC()
	rec := &index.Record{
		ExecutionID:    executionID,
		ButtonID:       button.ButtonID,
		SpellID:        button.SpellID,
		TenantID:       tenantID,
		ActorRole:      actorRole,
		Status:         index.StatusQueued,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		CreatedAt:      now,
	}
	if err := s.idx.Put(rec); err != nil {
		s.concurrency.Release(tenantID)
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()})
		return
	}
	s.audit.Append(AuditEntry{TenantID: tenantID, ActorRole: actorRole, ExecutionID: executionID, ButtonID: button.ButtonID, Action: "submitted"})
	s.bus.PublishList("executions", rec)

	go s.runExecution(rec, button.SpellID, button.Version, inputJSON, req.DryRun, req.riskAcknowledged(), req.billingAcknowledged(),
		button.RequireSignature || s.cfg.ForceRequireSignature)

	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) runExecution(rec *index.Record, spellID, spellVersion string, inputJSON []byte, dryRun, yes, allowBilling bool, requireSignature bool) {
	defer s.concurrency.Release(rec.TenantID)

	ctx, cancel := context.WithCancel(context.Background())
	runningExecutions.Store(rec.ExecutionID, cancel)
	defer func() {
		runningExecutions.Delete(rec.ExecutionID)
		cancel()
	}()

	rec.Status = index.StatusRunning
	_ = s.idx.Put(rec)
	s.bus.PublishExecution(rec.ExecutionID, "update", rec)
	s.bus.PublishList("executions", rec)

	opts := cast.Options{
		Home: s.cfg.Home, ID: spellID, Version: spellVersion,
		InputJSON: inputJSON, DryRun: dryRun, Yes: yes, AllowBilling: allowBilling || s.cfg.AllowBilling,
		RequireSignature: requireSignature, TrustStore: s.trust, LicenseStore: s.licenses,
		Policy: s.policy, PolicyCELOn: s.cfg.PolicyCELOn,
	}
	receiptResult, err := cast.Cast(ctx, opts)

	rec.Receipt = receiptResult
	if receiptResult != nil {
		rec.ErrorCode = receiptResult.ErrorCode
	}
	switch {
	case err == nil && receiptResult != nil && receiptResult.Success:
		rec.Status = index.StatusSucceeded
	case receiptResult != nil && (receiptResult.ErrorCode == "EXECUTION_TIMEOUT" || receiptResult.ErrorCode == "STEP_TIMEOUT"):
		rec.Status = index.StatusTimeout
	case ctx.Err() == context.Canceled:
		rec.Status = index.StatusCanceled
	default:
		rec.Status = index.StatusFailed
	}

	_ = s.idx.Put(rec)
	s.bus.PublishExecution(rec.ExecutionID, "terminal", rec)
	s.bus.PublishList("executions", rec)
	s.audit.Append(AuditEntry{TenantID: rec.TenantID, ActorRole: rec.ActorRole, ExecutionID: rec.ExecutionID, ButtonID: rec.ButtonID, Action: "finished", Detail: string(rec.Status)})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	f := index.Filter{
		Status:   r.URL.Query().Get("status"),
		ButtonID: r.URL.Query().Get("button_id"),
		SpellID:  r.URL.Query().Get("spell_id"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			f.Limit = n
		}
	}
	f.TenantID = id.TenantID
	if id.IsAdmin {
		if tid := r.URL.Query().Get("tenant_id"); tid != "" {
			f.TenantID = tid
		} else {
			f.TenantID = ""
		}
	}
	records, err := s.idx.List(f)
	if err != nil {
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

// loadAuthorized fetches a record by id and enforces tenant isolation: a
// non-admin caller may only see records belonging to their own tenant.
func (s *Server) loadAuthorized(r *http.Request) (*index.Record, *APIError) {
	executionID := chi.URLParam(r, "id")
	rec, found, err := s.idx.Get(executionID)
	if err != nil {
		return nil, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()}
	}
	if !found {
		return nil, &APIError{Status: http.StatusNotFound, Code: "EXECUTION_NOT_FOUND", Message: "no such execution"}
	}
	id := identityFromContext(r.Context())
	if !id.IsAdmin && rec.TenantID != id.TenantID {
		return nil, &APIError{Status: http.StatusForbidden, Code: "TENANT_FORBIDDEN", Message: "execution belongs to a different tenant"}
	}
	return rec, nil
}

// handleGetExecution returns execution status plus detail, with the
// receipt's stdout_head/stderr_head stripped (§4.11): this endpoint is
// reachable by any caller who can read the execution, not just the one who
// can read its full, unsanitized receipt via `spell log`.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, apiErr := s.loadAuthorized(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	sanitized := *rec
	sanitized.Receipt = receipt.Sanitize(rec.Receipt)
	writeJSON(w, http.StatusOK, &sanitized)
}

func (s *Server) handleGetExecutionOutput(w http.ResponseWriter, r *http.Request) {
	rec, apiErr := s.loadAuthorized(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if rec.Receipt == nil {
		writeJSON(w, http.StatusOK, map[string]any{"outputs": nil, "steps": nil})
		return
	}
	sanitized := receipt.Sanitize(rec.Receipt)
	writeJSON(w, http.StatusOK, map[string]any{"outputs": sanitized.Outputs, "steps": sanitized.Steps})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	rec, apiErr := s.loadAuthorized(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if cancel, ok := runningExecutions.Load(rec.ExecutionID); ok {
		cancel.(context.CancelFunc)()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
		return
	}
	writeAPIError(w, &APIError{Status: http.StatusConflict, Code: "NOT_CANCELABLE", Message: "execution is not running"})
}

func (s *Server) handleRetryExecution(w http.ResponseWriter, r *http.Request) {
	original, apiErr := s.loadAuthorized(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	if original.Receipt == nil {
		writeAPIError(w, &APIError{Status: http.StatusConflict, Code: "NOT_RETRYABLE", Message: "execution has no receipt to retry from"})
		return
	}
	if !s.concurrency.TryAcquire(original.TenantID) {
		writeAPIError(w, &APIError{Status: http.StatusTooManyRequests, Code: "CONCURRENCY_LIMIT", Message: "too many in-flight executions"})
		return
	}

	inputJSON, err := json.Marshal(original.Receipt.Input)
	if err != nil {
		s.concurrency.Release(original.TenantID)
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	executionID := uuid.NewString()
	rec := &index.Record{
		ExecutionID: executionID, ButtonID: original.ButtonID, SpellID: original.SpellID,
		TenantID: original.TenantID, ActorRole: original.ActorRole, Status: index.StatusQueued,
		RetryOf: original.ExecutionID, CreatedAt: time.Now().UTC(),
	}
	if err := s.idx.Put(rec); err != nil {
		s.concurrency.Release(original.TenantID)
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()})
		return
	}
	original.RetriedBy = executionID
	_ = s.idx.Put(original)

	go s.runExecution(rec, original.SpellID, "", inputJSON, false, true, s.cfg.AllowBilling, s.cfg.ForceRequireSignature)

	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleTenantUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	id := identityFromContext(r.Context())
	if !id.IsAdmin && id.TenantID != tenantID {
		writeAPIError(w, &APIError{Status: http.StatusForbidden, Code: "TENANT_FORBIDDEN", Message: "cannot view another tenant's usage"})
		return
	}
	global, tenant := s.concurrency.InFlight(tenantID)
	records, err := s.idx.List(index.Filter{TenantID: tenantID})
	if err != nil {
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "INDEX_ERROR", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":            tenantID,
		"in_flight":            tenant,
		"global_in_flight":     global,
		"total_executions":     len(records),
	})
}

func (s *Server) handleUIIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "spell execution API"})
}

// handleExecutionEvents streams one execution's updates as SSE.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	rec, apiErr := s.loadAuthorized(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	sub, unsubscribe := s.bus.SubscribeExecution(rec.ExecutionID)
	defer unsubscribe()
	streamSSE(w, r, sub, "snapshot", rec)
}

// handleListExecutionEvents streams the list-wide execution stream as SSE,
// scoped to the caller's tenant.
func (s *Server) handleListExecutionEvents(w http.ResponseWriter, r *http.Request) {
	sub, unsubscribe := s.bus.SubscribeList()
	defer unsubscribe()
	streamSSE(w, r, sub, "snapshot", map[string]string{"status": "subscribed"})
}

func streamSSE(w http.ResponseWriter, r *http.Request, sub *subscriber, initialEvent string, initialPayload any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, &APIError{Status: http.StatusInternalServerError, Code: "STREAMING_UNSUPPORTED", Message: "response writer does not support flushing"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(formatSSEFrame(initialEvent, initialPayload))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-sub.ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
