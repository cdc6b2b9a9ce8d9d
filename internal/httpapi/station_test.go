package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/authoring"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/pricing"
	"autocare-platform/internal/reconcile"
	"autocare-platform/pkg/logger"
)

// billStore stands in for the remote billing store.
type billStore struct {
	repo *billing.MemoryRepo
	svc  *billing.Service
}

func (b billStore) CreateBilling(ctx context.Context, req billing.CreateRequest) (billing.Record, error) {
	return b.svc.Create(ctx, "station", req)
}

func (b billStore) PayBilling(ctx context.Context, id int64, method string) (billing.Record, error) {
	return b.svc.Pay(ctx, "station", id, method)
}

func (b billStore) GetBilling(ctx context.Context, id int64) (billing.Record, error) {
	return b.svc.Get(ctx, id)
}

func (b billStore) ListByAppointment(ctx context.Context, id int64) ([]billing.Record, error) {
	return b.repo.ListByAppointment(ctx, id)
}

func newStation(t *testing.T) (*gin.Engine, billStore, *reconcile.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := billing.NewMemoryRepo()
	store := billStore{repo: repo, svc: billing.NewService(repo, nil, "INR", logger.Discard())}
	appts := appointments.NewMemoryRepo(
		appointments.Appointment{ID: 42, Status: appointments.StatusCompleted, ProviderName: "Speedy Motors", CustomerName: "ravi", UserID: "u1"},
	)
	apptSvc := appointments.NewService(appts, nil, logger.Discard())
	engine := reconcile.NewEngine(reconcile.ProviderScope(appts, "Speedy Motors"), store,
		reconcile.Config{Scope: "provider:Speedy Motors"}, logger.Discard())
	catalog := pricing.NewService(pricing.NewMemoryRepo(pricing.DefaultCatalog("INR")...))
	author := authoring.NewService(engine, store, store, catalog, nil,
		authoring.Config{ServiceChargeMinor: 50000, Currency: "INR"}, logger.Discard())

	r := gin.New()
	StationHandlers{
		Provider:     "Speedy Motors",
		Appointments: apptSvc,
		Engine:       engine,
		Authoring:    author,
		Catalog:      catalog,
		Bills:        store,
	}.Register(r)
	return r, store, engine
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStation_AuthorPayThenGateBlocks(t *testing.T) {
	r, _, _ := newStation(t)

	if w := serve(r, http.MethodPost, "/billing/refresh", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	w := serve(r, http.MethodGet, "/billing/42/gate", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"create"`) {
		t.Fatalf("expected create mode, got %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/billing/42", `{"selections":[{"service_id":"oil-change"},{"service_id":"brake-service"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var rec billing.Record
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec.TotalAmountMinor != 550000 {
		t.Fatalf("expected total 550000, got %d", rec.TotalAmountMinor)
	}
	if loc := w.Header().Get("Location"); loc != "/bills/"+itoa(rec.ID) {
		t.Fatalf("unexpected location %q", loc)
	}

	if w := serve(r, http.MethodPost, "/billing/42", `{"selections":[{"service_id":"car-wash"}]}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a bill is pending, got %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/billing/42/pay", `{"payment_method":"UPI"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/billing/42/gate", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for paid appointment, got %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/bills/"+itoa(rec.ID), "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"integrity_error":""`) {
		t.Fatalf("expected consistent bill detail, got %d %s", w.Code, w.Body.String())
	}
}

func TestStation_EmptySelectionIs400(t *testing.T) {
	r, store, _ := newStation(t)
	if w := serve(r, http.MethodPost, "/billing/42", `{"selections":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if recs, _ := store.repo.ListByAppointment(context.Background(), 42); len(recs) != 0 {
		t.Fatalf("expected no bill created, got %d", len(recs))
	}
}

func TestStation_BillDetailReportsIntegrity(t *testing.T) {
	r, store, _ := newStation(t)
	store.repo.Put(billing.Record{
		ID: 9, AppointmentID: 42, ProviderName: "Speedy Motors",
		Items:              []billing.LineItem{{Name: "Wash", UnitPriceMinor: 100, Quantity: 1}},
		ServicesTotalMinor: 100, ServiceChargeMinor: 0, TotalAmountMinor: 999,
		PaymentStatus: billing.PaymentPending,
	})
	w := serve(r, http.MethodGet, "/bills/9", "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), `"integrity_error":""`) {
		t.Fatalf("expected integrity error in detail, got %d %s", w.Code, w.Body.String())
	}
}

func TestStation_CatalogAndAppointmentStatus(t *testing.T) {
	r, _, _ := newStation(t)
	w := serve(r, http.MethodGet, "/catalog", "")
	var list []pricing.ServicePrice
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || len(list) != 6 {
		t.Fatalf("expected 6 catalog entries, got %d %d", w.Code, len(list))
	}
	if w := serve(r, http.MethodPatch, "/appointments/42/status", `{"status":"pending"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 reopening a completed appointment, got %d", w.Code)
	}
}
