package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"example.com/emissions/internal/domain"
)

// Invalidator defines a cache invalidation contract for facility rollups.
type Invalidator interface {
	InvalidateFacility(ctx context.Context, organizationID string, key domain.FacilityPeriodKey) error
}

// NoopInvalidator is a no-op implementation.
type NoopInvalidator struct{}

// InvalidateFacility performs no action.
func (NoopInvalidator) InvalidateFacility(context.Context, string, domain.FacilityPeriodKey) error {
	return nil
}

// HTTPInvalidator calls the dashboard cache invalidation endpoint.
type HTTPInvalidator struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPInvalidator constructs an HTTPInvalidator.
func NewHTTPInvalidator(endpoint, token string, timeout time.Duration) *HTTPInvalidator {
	return &HTTPInvalidator{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

type facilityPayload struct {
	OrganizationID string `json:"organization_id"`
	FacilityID     string `json:"facility_id"`
	PeriodStart    string `json:"period_start"`
	PeriodEnd      string `json:"period_end"`
}

// InvalidateFacility POSTs the facility period key as JSON.
func (h *HTTPInvalidator) InvalidateFacility(ctx context.Context, organizationID string, key domain.FacilityPeriodKey) error {
	body, err := json.Marshal(facilityPayload{
		OrganizationID: organizationID,
		FacilityID:     key.FacilityID,
		PeriodStart:    key.PeriodStart.Format(time.DateOnly),
		PeriodEnd:      key.PeriodEnd.Format(time.DateOnly),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &InvalidationError{Status: resp.StatusCode}
	}
	return nil
}

// InvalidationError represents a non-successful invalidation response.
type InvalidationError struct {
	Status int
}

func (e *InvalidationError) Error() string {
	return "cache invalidation failed with status " + http.StatusText(e.Status)
}
