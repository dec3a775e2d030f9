package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicstock/internal/core/apperror"
	"clinicstock/internal/core/calendar"
	appctx "clinicstock/internal/core/context"
	"clinicstock/internal/core/id"
	"clinicstock/internal/domain/auth"
	"clinicstock/internal/domain/inventory"
	"clinicstock/internal/domain/patients"
	"clinicstock/internal/domain/reports"
	"clinicstock/internal/infrastructure/http/v1/handlers"
	"clinicstock/internal/infrastructure/storage/postgres"
	"clinicstock/pkg/logger"
)

// --- fakes ---

type fakeValidator map[string]*appctx.UserContext

func (f fakeValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := f[token]; ok {
		return u, nil
	}
	return nil, errors.New("bad token")
}

type fakeDeliveries struct {
	mu    sync.Mutex
	calls []inventory.DeliveryRequest
	err   error
}

func (f *fakeDeliveries) Deliver(_ context.Context, req inventory.DeliveryRequest) (*inventory.DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &inventory.DeliveryResult{PreviousStock: 100, NewStock: 100 - req.Quantity}, nil
}

type fakeStock struct {
	initial inventory.InitialStockRequest
	created bool
}

func (f *fakeStock) RecordPurchase(_ context.Context, req inventory.PurchaseRequest) (*inventory.PurchaseResult, error) {
	return &inventory.PurchaseResult{Lot: inventory.Lot{BatchNumber: req.BatchNumber, Quantity: req.Quantity}}, nil
}

func (f *fakeStock) RecordInitialStock(_ context.Context, req inventory.InitialStockRequest) (*inventory.InitialStockResult, error) {
	f.initial = req
	return &inventory.InitialStockResult{Created: f.created}, nil
}

func (f *fakeStock) RecordAdjustment(context.Context, inventory.AdjustmentRequest) (*inventory.AdjustmentResult, error) {
	return &inventory.AdjustmentResult{}, nil
}

func (f *fakeStock) Lots(context.Context, id.ID, inventory.LotFilter) ([]inventory.Lot, error) {
	return []inventory.Lot{{BatchNumber: "LOT-1402-00001"}}, nil
}

type fakeReports struct {
	center id.ID
	period calendar.Period
}

func (f *fakeReports) CurrentStock(_ context.Context, centerID, drugID id.ID) (*reports.DrugStock, error) {
	f.center = centerID
	return nil, apperror.NewNotFound("drug_form", drugID.String())
}

func (f *fakeReports) CurrentInventory(_ context.Context, centerID id.ID) (*reports.CurrentInventory, error) {
	f.center = centerID
	return &reports.CurrentInventory{Items: []reports.StockItem{}}, nil
}

func (f *fakeReports) MonthlyReport(_ context.Context, centerID id.ID, period calendar.Period) (*reports.MonthlyReport, error) {
	f.center, f.period = centerID, period
	return &reports.MonthlyReport{Period: period}, nil
}

func (f *fakeReports) ExportMonthlyReport(_ context.Context, _ id.ID, _ calendar.Period, w io.Writer) error {
	_, err := w.Write([]byte("xlsx-bytes"))
	return err
}

func (f *fakeReports) ExportFormat() (string, string) {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"
}

func (f *fakeReports) LowStockAlerts(context.Context, id.ID) (*reports.LowStockAlerts, error) {
	return &reports.LowStockAlerts{}, nil
}

func (f *fakeReports) TransactionHistory(context.Context, id.ID, reports.TransactionFilter) (*reports.TransactionHistory, error) {
	return &reports.TransactionHistory{}, nil
}

func (f *fakeReports) Dashboard(context.Context, id.ID) (*reports.Dashboard, error) {
	return &reports.Dashboard{}, nil
}

func (f *fakeReports) DeliveryHistory(context.Context, id.ID, reports.DeliveryFilter) (*reports.DeliveryHistory, error) {
	return &reports.DeliveryHistory{}, nil
}

func (f *fakeReports) CenterMonthlyReport(_ context.Context, centerID id.ID, period calendar.Period) (*reports.CenterMonthlyReport, error) {
	f.center, f.period = centerID, period
	return &reports.CenterMonthlyReport{}, nil
}

func (f *fakeReports) AbsentPatients(_ context.Context, centerID id.ID, period calendar.Period) (*reports.AbsentPatientsReport, error) {
	f.center, f.period = centerID, period
	return &reports.AbsentPatientsReport{Period: period}, nil
}

type fakeRollup struct{ runs int }

func (f *fakeRollup) Run(context.Context) (patients.RollupResult, bool, error) {
	f.runs++
	return patients.RollupResult{MarkedAbsent: 2}, false, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(_ context.Context, creds auth.Credentials) (*auth.TokenPair, *auth.User, error) {
	if creds.Password != "secret" {
		return nil, nil, apperror.NewUnauthorized("invalid credentials")
	}
	return &auth.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"},
		&auth.User{ID: id.New(), Username: creds.Username, Role: appctx.RoleAdmin}, nil
}

func (fakeAuth) RefreshToken(context.Context, string) (*auth.TokenPair, error) {
	return &auth.TokenPair{AccessToken: "a2"}, nil
}

func (fakeAuth) Logout(context.Context, id.ID) error { return nil }

type fakeIdempotency struct {
	replay   *postgres.IdempotencyReplay
	acquired []string
	complete []int
	failed   []int
	released int
}

func (f *fakeIdempotency) AcquireKey(_ context.Context, key, _, operation, _ string) (*postgres.IdempotencyReplay, error) {
	f.acquired = append(f.acquired, key+" "+operation)
	return f.replay, nil
}

func (f *fakeIdempotency) CompleteKey(_ context.Context, _ string, status int, _ string, _ any) error {
	f.complete = append(f.complete, status)
	return nil
}

func (f *fakeIdempotency) FailKey(_ context.Context, _ string, status int, _ string, _ any) error {
	f.failed = append(f.failed, status)
	return nil
}

func (f *fakeIdempotency) ReleaseKey(context.Context, string) error {
	f.released++
	return nil
}

// --- harness ---

type testEnv struct {
	router     http.Handler
	center     id.ID
	deliveries *fakeDeliveries
	stock      *fakeStock
	reports    *fakeReports
	rollup     *fakeRollup
	idem       *fakeIdempotency
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		center:     id.New(),
		deliveries: &fakeDeliveries{},
		stock:      &fakeStock{},
		reports:    &fakeReports{},
		rollup:     &fakeRollup{},
		idem:       &fakeIdempotency{},
	}
	validator := fakeValidator{
		"manager": {UserID: id.New().String(), Role: appctx.RoleManager, CenterID: env.center.String()},
		"admin":   {UserID: id.New().String(), Role: appctx.RoleAdmin},
	}
	env.router = NewRouter(RouterConfig{
		Logger:          logger.Nop(),
		JWTValidator:    validator,
		Calendar:        calendar.NewJalali(nil),
		AuthService:     fakeAuth{},
		DeliveryService: env.deliveries,
		StockService:    env.stock,
		ReportService:   env.reports,
		Rollup:          env.rollup,
		Idempotency:     env.idem,
		Version:         "test",
		HealthChecks: map[string]handlers.CheckFunc{
			"database": func(context.Context) error { return nil },
		},
	})
	return env
}

func (e *testEnv) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func deliveryBody() map[string]any {
	return map[string]any{
		"patientId":    id.New().String(),
		"drugFormId":   id.New().String(),
		"quantity":     30,
		"deliveryDate": "1402/01/15",
	}
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["checks"].(map[string]any)["database"])

	w = env.do(http.MethodGet, "/api/v1/info", "", nil)
	assert.Equal(t, "test", decode(t, w)["version"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "root", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a", decode(t, w)["tokens"].(map[string]any)["accessToken"])

	w = env.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "root", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode(t, w)["code"])
}

func TestDeliveries_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/deliveries", "", deliveryBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/deliveries", "forged", deliveryBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, env.deliveries.calls)
}

func TestDeliveries_ManagerUsesTokenCenter(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", deliveryBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, env.deliveries.calls, 1)
	assert.Equal(t, env.center, env.deliveries.calls[0].CenterID)
	assert.Equal(t, int64(70), int64(decode(t, w)["newStock"].(float64)))
}

func TestDeliveries_ManagerOtherCenterForbidden(t *testing.T) {
	env := newTestEnv(t)

	body := deliveryBody()
	body["centerId"] = id.New().String()
	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.deliveries.calls)
}

func TestDeliveries_AdminCannotDeliver(t *testing.T) {
	env := newTestEnv(t)

	body := deliveryBody()
	body["centerId"] = env.center.String()
	w := env.do(http.MethodPost, "/api/v1/deliveries", "admin", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeliveries_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	env.deliveries.err = apperror.NewInsufficientStock("drug", 10, 30)

	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", deliveryBody(), "X-Idempotency-Key", "k1")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body := decode(t, w)
	assert.Equal(t, apperror.CodeInsufficientStock, body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, float64(10), details["current_stock"])
	assert.Equal(t, float64(30), details["requested_quantity"])

	assert.Equal(t, []int{http.StatusUnprocessableEntity}, env.idem.failed)
	assert.Zero(t, env.idem.released)
}

func TestDeliveries_LockTimeoutReleasesKey(t *testing.T) {
	env := newTestEnv(t)
	env.deliveries.err = apperror.NewLockTimeout("monthly_inventory")

	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", deliveryBody(), "X-Idempotency-Key", "k1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, env.idem.released)
	assert.Empty(t, env.idem.failed)
}

func TestDeliveries_IdempotentCompleteAndReplay(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", deliveryBody(), "X-Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"k1 POST /api/v1/deliveries"}, env.idem.acquired)
	assert.Equal(t, []int{http.StatusCreated}, env.idem.complete)

	env.idem.replay = &postgres.IdempotencyReplay{StatusCode: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"newStock":70}`)}
	w = env.do(http.MethodPost, "/api/v1/deliveries", "manager", deliveryBody(), "X-Idempotency-Key", "k1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"newStock":70}`, w.Body.String())
	assert.Len(t, env.deliveries.calls, 1)
}

func TestDeliveries_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	body := deliveryBody()
	body["patientId"] = "not-a-uuid"
	w := env.do(http.MethodPost, "/api/v1/deliveries", "manager", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, decode(t, w)["code"])
}

func TestInventory_AdminMustNameCenter(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/inventory/current", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/inventory/current?center_id="+env.center.String(), "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.center, env.reports.center)
}

func TestInventory_CurrentByDrugNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/inventory/current/"+id.New().String(), "manager", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/inventory/current/bogus", "manager", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventory_MonthlyReportPeriod(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/inventory/monthly-report?year=1402&month=2", "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, calendar.Period{Year: 1402, Month: 2}, env.reports.period)

	w = env.do(http.MethodGet, "/api/v1/inventory/monthly-report?year=1402&month=13", "manager", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventory_Export(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/inventory/monthly-report/export?year=1402&month=2", "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Equal(t, `attachment; filename="monthly-report-1402-02.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "xlsx-bytes", w.Body.String())
}

func TestInventory_InitialStockStatus(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"drugFormId": id.New().String(), "year": 1402, "month": 1, "quantity": 500}

	env.stock.created = true
	w := env.do(http.MethodPost, "/api/v1/inventory/initial-stock", "manager", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, calendar.Period{Year: 1402, Month: 1}, env.stock.initial.Period)

	env.stock.created = false
	w = env.do(http.MethodPost, "/api/v1/inventory/initial-stock", "manager", body)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInventory_Lots(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/inventory/lots?status=active", "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = env.do(http.MethodGet, "/api/v1/inventory/lots?status=bogus", "manager", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReports_AbsentPatients(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/reports/absent-patients?year=1402&month=6", "manager", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, env.center, env.reports.center)
	assert.Equal(t, calendar.Period{Year: 1402, Month: 6}, env.reports.period)
}

func TestAdmin_RefreshPatientStatuses(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/admin/patient-statuses/refresh", "manager", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, env.rollup.runs)

	w = env.do(http.MethodPost, "/api/v1/admin/patient-statuses/refresh", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.rollup.runs)
	assert.Equal(t, float64(2), decode(t, w)["markedAbsent"])
}
