package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/apiclient"
	"autocare-platform/internal/appointments"
	"autocare-platform/internal/audit"
	"autocare-platform/internal/auth"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/config"
	"autocare-platform/internal/httpapi"
	"autocare-platform/internal/reporting"
	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/logger"
)

type stack struct {
	srv      *httptest.Server
	audit    *audit.MemoryRepo
	provider *apiclient.Client
	customer *apiclient.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	billSvc := billing.NewService(billing.NewMemoryRepo(), nil, "INR", logger.Discard())
	apptSvc := appointments.NewService(appointments.NewMemoryRepo(
		appointments.Appointment{ID: 42, Status: appointments.StatusConfirmed, ProviderName: "Speedy Motors", CustomerName: "ravi", UserID: "u1"},
	), nil, logger.Discard())

	auditRepo := audit.NewMemoryRepo()
	r := gin.New()
	httpapi.Handlers{
		Audit:        audit.NewService(auditRepo),
		Auth:         m,
		Exchange:     signaling.NewMemoryExchange(),
		Billing:      billSvc,
		Appointments: apptSvc,
		Reporting:    reporting.NewService(reporting.NewSourceRepo(apptSvc, billSvc)),
		KeepAlive:    50 * time.Millisecond,
	}.Register(r, auth.RequireAccessToken(m))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := func(userID, name, role string) *apiclient.Client {
		p, err := m.IssuePair(time.Now(), userID, name, role)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return apiclient.New(apiclient.Config{BaseURL: srv.URL, Token: p.AccessToken, Timeout: 2 * time.Second, DefaultChargeMinor: 50000}, logger.Discard())
	}
	return &stack{
		srv:      srv,
		audit:    auditRepo,
		provider: client("p1", "Speedy Motors", "provider"),
		customer: client("u1", "ravi", "customer"),
	}
}

func TestClient_SignalingRoundTrip(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if _, err := s.customer.Offer(ctx, 42); !errors.Is(err, signaling.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before start, got %v", err)
	}
	if _, err := s.customer.GetStream(ctx, 42); !errors.Is(err, signaling.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}

	st, err := s.provider.StartStream(ctx, signaling.StartRequest{AppointmentID: 42, CustomerName: "ravi"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.ProviderName != "Speedy Motors" {
		t.Fatalf("expected provider name from token, got %q", st.ProviderName)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := s.customer.Watch(wctx, 42)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := s.provider.PublishOffer(ctx, 42, "v=0 offer"); err != nil {
		t.Fatalf("publish offer: %v", err)
	}
	select {
	case ev := <-events:
		if ev.AppointmentID != 42 || ev.Kind != signaling.EventOffer {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an offer event")
	}

	offer, err := s.customer.Offer(ctx, 42)
	if err != nil || offer != "v=0 offer" {
		t.Fatalf("expected offer, got %q %v", offer, err)
	}
	if err := s.customer.PublishAnswer(ctx, 42, "v=0 answer"); err != nil {
		t.Fatalf("publish answer: %v", err)
	}
	if ans, err := s.provider.Answer(ctx, 42); err != nil || ans != "v=0 answer" {
		t.Fatalf("expected answer, got %q %v", ans, err)
	}

	cand := signaling.Candidate{Role: signaling.RoleCustomer, Candidate: "candidate:1 1 udp 1 10.0.0.2 5000 typ host"}
	if err := s.customer.PublishCandidate(ctx, 42, cand); err != nil {
		t.Fatalf("publish candidate: %v", err)
	}
	list, err := s.provider.Candidates(ctx, 42, signaling.RoleCustomer)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one candidate, got %d %v", len(list), err)
	}

	active, err := s.customer.ActiveStreams(ctx, "ravi")
	if err != nil || len(active) != 1 || active[0].AppointmentID != 42 {
		t.Fatalf("expected stream 42 active, got %+v %v", active, err)
	}

	if _, err := s.customer.StartStream(ctx, signaling.StartRequest{AppointmentID: 43}); !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for customer start, got %v", err)
	}
	if err := s.provider.StopStream(ctx, 42); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.provider.StopStream(ctx, 99); err != nil {
		t.Fatalf("expected stop of unknown stream to be a no-op, got %v", err)
	}
}

func TestClient_BillingAndAppointments(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	rec, err := s.provider.CreateBilling(ctx, billing.CreateRequest{
		AppointmentID: 42,
		UserID:        "u1",
		Items: []billing.LineItem{
			{Name: "Oil Change", UnitPriceMinor: 150000, Quantity: 1},
			{Name: "Brake Service", UnitPriceMinor: 350000, Quantity: 1},
		},
		ServiceChargeMinor: 50000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.TotalAmountMinor != 550000 {
		t.Fatalf("expected 550000, got %d", rec.TotalAmountMinor)
	}
	if _, err := s.customer.PayBilling(ctx, rec.ID, "UPI"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := s.customer.PayBilling(ctx, rec.ID, "UPI"); !errors.Is(err, billing.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if _, err := s.provider.GetBilling(ctx, 999); !errors.Is(err, billing.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mine, err := s.customer.ListBillingByUser(ctx, "u1")
	if err != nil || len(mine) != 1 || !mine[0].IsPaid() {
		t.Fatalf("expected one paid bill, got %+v %v", mine, err)
	}

	a, err := s.provider.UpdateStatus(ctx, 42, appointments.StatusInProgress)
	if err != nil || a.Status != appointments.StatusInProgress {
		t.Fatalf("expected in-progress, got %+v %v", a, err)
	}
	if _, err := s.provider.UpdateStatus(ctx, 42, appointments.StatusPending); !errors.Is(err, appointments.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.provider.Get(ctx, 7); !errors.Is(err, appointments.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := s.customer.ListByCustomer(ctx, "ravi")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one appointment, got %d %v", len(list), err)
	}
}

func rawServer(t *testing.T, status int, body string) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return apiclient.New(apiclient.Config{BaseURL: srv.URL, Token: "tok", Timeout: time.Second, DefaultChargeMinor: 50000}, logger.Discard())
}

func TestClient_ServerErrorIsNetworkError(t *testing.T) {
	c := rawServer(t, http.StatusBadGateway, `{"error":"upstream"}`)
	_, err := c.Offer(context.Background(), 42)
	var ne *signaling.NetworkError
	if !errors.As(err, &ne) || !errors.Is(err, signaling.ErrNetwork) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestClient_UnreachableIsNetworkError(t *testing.T) {
	c := apiclient.New(apiclient.Config{BaseURL: "http://127.0.0.1:1", Token: "tok", Timeout: time.Second}, logger.Discard())
	if _, err := c.ActiveStreams(context.Background(), "ravi"); !errors.Is(err, signaling.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestClient_EmptyOfferIsNotReady(t *testing.T) {
	c := rawServer(t, http.StatusOK, `{"sdp":""}`)
	if _, err := c.Offer(context.Background(), 42); !errors.Is(err, signaling.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestClient_LegacyBillingShapeNormalized(t *testing.T) {
	c := rawServer(t, http.StatusOK, `{"data":[{"_id":"3","appointmentId":42,
		"services":[{"serviceName":"Oil Change","price":1500},{"serviceName":"Brake Service","price":3500}],
		"paymentStatus":"Paid","paymentMethod":"UPI"}]}`)
	recs, err := c.ListByAppointment(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != 3 || r.TotalAmountMinor != 550000 || !r.IsPaid() {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestClient_MissingBillingIsEmpty(t *testing.T) {
	c := rawServer(t, http.StatusNotFound, `{"error":"not found"}`)
	recs, err := c.ListByAppointment(context.Background(), 42)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty result, got %v %v", recs, err)
	}
}

func TestClient_LogBroadcastRecordsCaller(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if err := s.provider.LogBroadcast(ctx, 42, "ignored", true); err != nil {
		t.Fatalf("log start: %v", err)
	}
	if err := s.provider.LogBroadcast(ctx, 42, "", false); err != nil {
		t.Fatalf("log stop: %v", err)
	}
	if err := s.customer.LogBroadcast(ctx, 42, "ravi", true); !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for customer, got %v", err)
	}

	events := s.audit.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Type != audit.EventTypeBroadcastStarted || events[1].Type != audit.EventTypeBroadcastStopped {
		t.Fatalf("unexpected event types: %s %s", events[0].Type, events[1].Type)
	}
	if events[0].ActorName != "Speedy Motors" || events[0].AppointmentID != 42 {
		t.Fatalf("expected caller as actor, got %+v", events[0])
	}
}
