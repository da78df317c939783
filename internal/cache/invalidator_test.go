package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/domain"
)

func testKey() domain.FacilityPeriodKey {
	return domain.NewFacilityPeriodKey("plant-7",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
}

func TestHTTPInvalidatorPostsFacilityKey(t *testing.T) {
	var (
		got  facilityPayload
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inv := NewHTTPInvalidator(srv.URL+"/", "secret", time.Second)
	require.NoError(t, inv.InvalidateFacility(context.Background(), "org-1", testKey()))
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, facilityPayload{
		OrganizationID: "org-1",
		FacilityID:     "plant-7",
		PeriodStart:    "2024-01-01",
		PeriodEnd:      "2024-12-31",
	}, got)
}

func TestHTTPInvalidatorReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPInvalidator(srv.URL, "", time.Second).InvalidateFacility(context.Background(), "org-1", testKey())
	var invErr *InvalidationError
	require.True(t, errors.As(err, &invErr))
	require.Equal(t, http.StatusBadGateway, invErr.Status)
}

func TestNoopInvalidator(t *testing.T) {
	require.NoError(t, NoopInvalidator{}.InvalidateFacility(context.Background(), "org-1", testKey()))
}
