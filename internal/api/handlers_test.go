package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"example.com/emissions/internal/aggregate"
	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/auth"
	"example.com/emissions/internal/calculation"
	"example.com/emissions/internal/domain"
	"example.com/emissions/internal/persistence/memory"
	"example.com/emissions/internal/provenance"
	"example.com/emissions/internal/refdata"
)

const (
	orgID     = "org-1"
	userID    = "user-1"
	invoiceID = "6f1c3d2e-4b5a-4e8f-9a7b-0c1d2e3f4a5b"
)

var (
	authConfig = auth.Config{Secret: "api-test-secret", Issuer: "emissions.test"}
	fixedNow   = time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC)
)

func clock() time.Time { return fixedNow }

type fixture struct {
	store  *memory.Store
	server *httptest.Server
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore(memory.WithClock(clock))
	store.AddMember(orgID, userID)
	store.AddFactor(domain.EmissionFactor{ID: "ng-2024", FuelType: "natural_gas_kwh", FactorYear: 2024, CO2eFactor: 0.182, FactorUnit: "kWh", Scope: domain.Scope1})
	store.AddFactor(domain.EmissionFactor{ID: "flight-2025", FuelType: "flight_economy_short_haul", FactorYear: 2025, CO2eFactor: 0.15, FactorUnit: "gCO2e/USD", Scope: domain.Scope3, Source: "EEIO 2025"})
	store.AddProvenance(domain.DataProvenanceRecord{ID: invoiceID, OrganizationID: orgID, SourceType: "invoice"})

	tables := refdata.Default()
	orchestrator := calculation.NewOrchestrator(store, aggregate.NewRefresher(store, aggregate.WithClock(clock)), tables, calculation.WithClock(clock))
	travel := calculation.NewTravelSpend(store, provenance.NewValidator(store), tables, calculation.WithTravelClock(clock))
	return fixture{store: store, server: newServer(t, orchestrator, travel, audit.NewVerifier(store), store)}
}

func newServer(t *testing.T, batch BatchRunner, spend SpendCalculator, verifier LedgerVerifier, members domain.MembershipRepository) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(batch, spend, verifier, auth.NewAuthorizer(members))
	require.NoError(t, err)
	router := chi.NewRouter()
	router.Use(auth.NewMiddleware(authConfig).Wrap)
	handler.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, subject, tenant string, scopes ...string) string {
	t.Helper()
	if scopes == nil {
		scopes = []string{auth.ScopeEmissionsCalculate, auth.ScopeLedgerRead}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       subject,
		"tenant_id": tenant,
		"iss":       authConfig.Issuer,
		"exp":       time.Now().Add(time.Hour).Unix(),
		"scopes":    scopes,
	}).SignedString([]byte(authConfig.Secret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, srv *httptest.Server, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func scenarioActivity() domain.ActivityRecord {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	return domain.ActivityRecord{
		ID:                   "act-1",
		OrganizationID:       orgID,
		Category:             domain.CategoryScope1,
		FuelType:             "natural_gas_kwh",
		Quantity:             1000,
		Unit:                 "kWh",
		FacilityID:           "plant-1",
		ReportingPeriodStart: &start,
		ReportingPeriodEnd:   &end,
		ActivityDate:         end,
	}
}

func spendBody(currency string) map[string]any {
	return map[string]any{
		"provenance_id": invoiceID,
		"activity_data": map[string]any{
			"travel_type": "flight_economy_short_haul",
			"spend":       200,
			"currency":    currency,
		},
	}
}

func TestCalculateScope12(t *testing.T) {
	fx := newFixture(t)
	fx.store.AddActivity(scenarioActivity())
	bearer := token(t, userID, orgID)

	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope1-2", bearer, map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["calculations_performed"])
	require.EqualValues(t, 1, body["logs_created"])
	require.EqualValues(t, 1, body["facilities_aggregated"])
	require.EqualValues(t, 0, body["unmatched_activities"])
	details := body["details"].(map[string]any)
	require.EqualValues(t, 1, details["total_unprocessed"])
	require.Empty(t, details["unmatched_list"])

	emissions := fx.store.Emissions(orgID)
	require.Len(t, emissions, 1)
	require.InDelta(t, 182.0, emissions[0].CalculatedValueCO2e, 1e-9)

	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope1-2", bearer, map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, body["calculations_performed"])
	require.Len(t, fx.store.Emissions(orgID), 1)
}

func TestCalculateScope12Rejections(t *testing.T) {
	fx := newFixture(t)

	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope1-2", "", map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthenticated", body["type"])

	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope1-2", token(t, "stranger", orgID), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", body["type"])

	status, _ = do(t, fx.server, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID, auth.ScopeLedgerRead), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusForbidden, status)

	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), map[string]string{})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", body["type"])
	require.Contains(t, body["detail"], "organization_id")

	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), "{not json")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", body["type"])
}

func TestCalculateScope12WithoutFactors(t *testing.T) {
	store := memory.NewStore(memory.WithClock(clock))
	store.AddMember(orgID, userID)
	orchestrator := calculation.NewOrchestrator(store, nil, refdata.Default(), calculation.WithClock(clock))
	srv := newServer(t, orchestrator, stubSpend{}, audit.NewVerifier(store), store)

	status, body := do(t, srv, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "reference_data_missing", body["type"])
}

type stubBatch struct {
	err error
}

func (s stubBatch) Run(context.Context, string, string) (calculation.Report, error) {
	return calculation.Report{}, s.err
}

type stubSpend struct{}

func (stubSpend) Calculate(context.Context, calculation.SpendRequest) (calculation.SpendResult, error) {
	return calculation.SpendResult{}, errors.New("not used")
}

type allMembers struct{}

func (allMembers) IsMember(context.Context, string, string) (bool, error) { return true, nil }

func TestCalculateScope12ErrorMapping(t *testing.T) {
	persistErr := &domain.PersistenceError{Index: 2, ActivityID: "act-3", Succeeded: 2, Stage: domain.StageCalculationLog, Err: errors.New("disk full")}

	srv := newServer(t, stubBatch{err: persistErr}, stubSpend{}, audit.NewVerifier(memory.NewStore()), allMembers{})
	status, body := do(t, srv, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "persistence_error", body["type"])
	require.EqualValues(t, 2, body["failed_index"])
	require.Equal(t, "act-3", body["activity_id"])
	require.EqualValues(t, 2, body["calculations_performed"])
	require.Equal(t, domain.StageCalculationLog, body["stage"])
	require.NotContains(t, body["detail"], "disk full")

	srv = newServer(t, stubBatch{err: domain.ErrBatchInProgress}, stubSpend{}, audit.NewVerifier(memory.NewStore()), allMembers{})
	status, body = do(t, srv, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "batch_in_progress", body["type"])

	srv = newServer(t, stubBatch{err: errors.New("connection reset")}, stubSpend{}, audit.NewVerifier(memory.NewStore()), allMembers{})
	status, body = do(t, srv, http.MethodPost, "/calculate-scope1-2", token(t, userID, orgID), map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "server_error", body["type"])
	require.NotContains(t, body["detail"], "connection reset")
}

func TestCalculateTravelSpend(t *testing.T) {
	fx := newFixture(t)

	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", token(t, userID, orgID), spendBody("GBP"))
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, 0.000038, body["emissions_tco2e"])
	require.NotEmpty(t, body["calculation_log_id"])
	meta := body["metadata"].(map[string]any)
	require.Equal(t, 254.0, meta["spend_normalised_usd"])
	require.Equal(t, 1.27, meta["exchange_rate_used"])
	require.Equal(t, "GBP", meta["currency_original"])
	require.Equal(t, "EEIO 2025", meta["factor_source"])
	require.Equal(t, domain.CalculationTypeScope3TravelSpend, meta["calculation_type"])

	logs, err := fx.store.ListLogs(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, invoiceID, logs[0].ProvenanceID)
	require.Equal(t, userID, logs[0].UserID)
}

func TestCalculateTravelSpendUnsupportedCurrency(t *testing.T) {
	fx := newFixture(t)

	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", token(t, userID, orgID), spendBody("XYZ"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "validation_error", body["type"])
	supported, ok := body["supported_currencies"].([]any)
	require.True(t, ok, body)
	require.Contains(t, supported, "GBP")
	require.Contains(t, supported, "USD")
	require.Contains(t, body["detail"], "XYZ")

	logs, err := fx.store.ListLogs(context.Background(), orgID)
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Empty(t, fx.store.Events())
}

func TestCalculateTravelSpendValidation(t *testing.T) {
	fx := newFixture(t)
	bearer := token(t, userID, orgID)

	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, map[string]any{"provenance_id": invoiceID})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["detail"], "activity_data")

	bad := spendBody("GBP")
	bad["activity_data"].(map[string]any)["spend"] = "200"
	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, bad)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["detail"], "activity_data.spend")

	negative := spendBody("GBP")
	negative["activity_data"].(map[string]any)["spend"] = -5
	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, negative)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["detail"], "activity_data.spend")
}

func TestCalculateTravelSpendNotFound(t *testing.T) {
	fx := newFixture(t)
	bearer := token(t, userID, orgID)

	malformed := spendBody("GBP")
	malformed["provenance_id"] = "not-a-uuid"
	status, body := do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, malformed)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Invalid provenance_id", body["detail"])

	fx.store.AddMember("org-2", userID)
	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", token(t, userID, "org-2"), spendBody("GBP"))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Invalid provenance_id", body["detail"])

	unknown := spendBody("GBP")
	unknown["activity_data"].(map[string]any)["travel_type"] = "rail_sleeper"
	status, body = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, unknown)
	require.Equal(t, http.StatusNotFound, status)
	require.True(t, strings.Contains(body["detail"].(string), "rail_sleeper"))

	logs, _ := fx.store.ListLogs(context.Background(), orgID)
	require.Empty(t, logs)
}

func TestCalculateTravelSpendRequiresMembership(t *testing.T) {
	fx := newFixture(t)

	status, _ := do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", token(t, "stranger", orgID), spendBody("GBP"))
	require.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", token(t, userID, ""), spendBody("GBP"))
	require.Equal(t, http.StatusForbidden, status)
}

func TestVerifyLedger(t *testing.T) {
	fx := newFixture(t)
	fx.store.AddActivity(scenarioActivity())
	bearer := token(t, userID, orgID)

	status, _ := do(t, fx.server, http.MethodPost, "/calculate-scope1-2", bearer, map[string]string{"organization_id": orgID})
	require.Equal(t, http.StatusOK, status)
	status, _ = do(t, fx.server, http.MethodPost, "/calculate-scope3-travel-spend", bearer, spendBody("EUR"))
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, fx.server, http.MethodGet, "/audit/verify?organization_id="+orgID, token(t, userID, orgID, auth.ScopeLedgerRead), nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["valid"])
	require.EqualValues(t, 2, body["entries_checked"])
	require.NotEmpty(t, body["head_hash"])

	require.True(t, fx.store.TamperLog(orgID, 1, func(l *domain.CalculationLog) { l.OutputValue = 1 }))
	status, body = do(t, fx.server, http.MethodGet, "/audit/verify?organization_id="+orgID, bearer, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["valid"])
	require.EqualValues(t, 1, body["broken_at_sequence"])

	status, _ = do(t, fx.server, http.MethodGet, "/audit/verify?organization_id=org-2", bearer, nil)
	require.Equal(t, http.StatusForbidden, status)
}

func TestHealthzIsOpen(t *testing.T) {
	fx := newFixture(t)
	resp, err := fx.server.Client().Get(fx.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
