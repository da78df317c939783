// Package api exposes HTTP handlers for the emissions service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"example.com/emissions/internal/aggregate"
	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/auth"
	"example.com/emissions/internal/calculation"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/observability"
)

const maxBodyBytes = 1 << 20

// BatchRunner runs the Scope 1/2 batch for one organization.
type BatchRunner interface {
	Run(ctx context.Context, organizationID, userID string) (calculation.Report, error)
}

// SpendCalculator runs one travel-spend calculation.
type SpendCalculator interface {
	Calculate(ctx context.Context, req calculation.SpendRequest) (calculation.SpendResult, error)
}

// LedgerVerifier checks an organization's calculation log chain.
type LedgerVerifier interface {
	VerifyOrganization(ctx context.Context, organizationID string) (audit.VerificationResult, error)
}

// Handler coordinates HTTP requests with the calculation flows.
type Handler struct {
	batch    BatchRunner
	spend    SpendCalculator
	verifier LedgerVerifier
	authz    auth.Authorizer
	schemas  requestSchemas
	logger   zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler builds a Handler.
func NewHandler(batch BatchRunner, spend SpendCalculator, verifier LedgerVerifier, authz auth.Authorizer, opts ...Option) (*Handler, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		batch:    batch,
		spend:    spend,
		verifier: verifier,
		authz:    authz,
		schemas:  schemas,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Post("/calculate-scope1-2", h.calculateScope12)
	r.Post("/calculate-scope3-travel-spend", h.calculateTravelSpend)
	r.Get("/audit/verify", h.verifyLedger)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// BatchRequest is the payload for POST /calculate-scope1-2.
type BatchRequest struct {
	OrganizationID string `json:"organization_id"`
}

// BatchDetails breaks down how the unprocessed activities were handled.
type BatchDetails struct {
	TotalUnprocessed int                             `json:"total_unprocessed"`
	Matched          int                             `json:"matched"`
	Unmatched        int                             `json:"unmatched"`
	UnmatchedList    []calculation.UnmatchedActivity `json:"unmatched_list"`
}

// BatchResponse is the success body for POST /calculate-scope1-2.
type BatchResponse struct {
	Success               bool                      `json:"success"`
	Message               string                    `json:"message"`
	CalculationsPerformed int                       `json:"calculations_performed"`
	LogsCreated           int                       `json:"logs_created"`
	FacilitiesAggregated  int                       `json:"facilities_aggregated"`
	UnmatchedActivities   int                       `json:"unmatched_activities"`
	Details               BatchDetails              `json:"details"`
	ReviewFlags           []calculation.ReviewFlag  `json:"review_flags"`
	UnitWarnings          []calculation.UnitWarning `json:"unit_warnings"`
	AggregationWarnings   []aggregate.Warning       `json:"aggregation_warnings"`
}

// SpendActivityData is the activity part of a travel-spend request.
type SpendActivityData struct {
	TravelType string  `json:"travel_type"`
	Spend      float64 `json:"spend"`
	Currency   string  `json:"currency"`
}

// SpendRequest is the payload for POST /calculate-scope3-travel-spend.
type SpendRequest struct {
	ProvenanceID string            `json:"provenance_id"`
	ActivityData SpendActivityData `json:"activity_data"`
}

func (h *Handler) calculateScope12(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := validateBody(h.schemas.batch, body); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	var req BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	orgID := strings.TrimSpace(req.OrganizationID)
	claims, err := h.authz.RequireMember(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !claims.HasScope(auth.ScopeEmissionsCalculate) {
		writeError(w, http.StatusForbidden, "forbidden", "scope emissions:calculate required")
		return
	}

	report, err := h.batch.Run(r.Context(), orgID, claims.Subject)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(report))
}

func (h *Handler) calculateTravelSpend(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeDomainError(w, h.logger, domain.ErrUnauthenticated)
		return
	}
	if strings.TrimSpace(claims.TenantID) == "" {
		writeDomainError(w, h.logger, domain.ErrForbidden)
		return
	}
	if _, err := h.authz.RequireMember(r.Context(), claims.TenantID); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !claims.HasScope(auth.ScopeEmissionsCalculate) {
		writeError(w, http.StatusForbidden, "forbidden", "scope emissions:calculate required")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := validateBody(h.schemas.spend, body); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	var req SpendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	result, err := h.spend.Calculate(r.Context(), calculation.SpendRequest{
		OrganizationID: claims.TenantID,
		UserID:         claims.Subject,
		ProvenanceID:   req.ProvenanceID,
		TravelType:     req.ActivityData.TravelType,
		Spend:          req.ActivityData.Spend,
		Currency:       req.ActivityData.Currency,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("organization_id"))
	claims, err := h.authz.RequireMember(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !claims.HasAnyScope(auth.ScopeLedgerRead, auth.ScopeEmissionsCalculate) {
		writeError(w, http.StatusForbidden, "forbidden", "scope ledger:read required")
		return
	}

	result, err := h.verifier.VerifyOrganization(r.Context(), orgID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	observability.RecordLedgerVerification(result.Valid)
	if !result.Valid {
		h.logger.Warn().
			Str("organization_id", orgID).
			Int64("broken_at_sequence", result.BrokenAtSequence).
			Str("reason", result.Reason).
			Msg("calculation ledger verification failed")
	}
	writeJSON(w, http.StatusOK, result)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, &domain.ValidationError{Message: "unable to read request body"}
	}
	if len(body) > maxBodyBytes {
		return nil, &domain.ValidationError{Message: fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes)}
	}
	return body, nil
}

func toBatchResponse(report calculation.Report) BatchResponse {
	message := fmt.Sprintf("Calculated %d emissions from %d unprocessed activities", report.CalculationsPerformed, report.TotalUnprocessed)
	if report.TotalUnprocessed == 0 {
		message = "No unprocessed activities found"
	}
	return BatchResponse{
		Success:               true,
		Message:               message,
		CalculationsPerformed: report.CalculationsPerformed,
		LogsCreated:           report.LogsCreated,
		FacilitiesAggregated:  report.FacilitiesAggregated,
		UnmatchedActivities:   report.Unmatched,
		Details: BatchDetails{
			TotalUnprocessed: report.TotalUnprocessed,
			Matched:          report.Matched,
			Unmatched:        report.Unmatched,
			UnmatchedList:    report.UnmatchedList,
		},
		ReviewFlags:         report.ReviewFlags,
		UnitWarnings:        report.UnitWarnings,
		AggregationWarnings: report.AggregationWarnings,
	}
}
