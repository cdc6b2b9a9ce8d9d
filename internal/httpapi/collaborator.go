package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/audit"
	"autocare-platform/internal/auth"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/rbac"
	"autocare-platform/internal/reporting"
	"autocare-platform/internal/signaling"
)

// Handlers groups the collaborator API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Exchange     signaling.Exchange
	Billing      *billing.Service
	Appointments *appointments.Service
	Reporting    *reporting.Service
	// Audit receives events reported by the provider daemons. Optional.
	Audit *audit.Service

	// DevTokens enables POST /v1/auth/token. Never set in production.
	DevTokens bool
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
}

// Register mounts every collaborator route on r. authMW guards /v1.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.POST("/auth/token", h.IssueToken)

	p := v1.Group("")
	p.Use(authMW)

	providers := rbac.RequireAnyRole(rbac.RoleProvider)
	customers := rbac.RequireAnyRole(rbac.RoleCustomer)
	anyone := rbac.RequireAnyRole(rbac.RoleProvider, rbac.RoleCustomer)

	streams := p.Group("/streams")
	{
		streams.GET("/active/:identity", anyone, rbac.RequireSelf("identity"), h.ActiveStreams)
		streams.GET("/:appointment_id", anyone, h.GetStream)
		streams.POST("/:appointment_id/start", providers, h.StartStream)
		streams.PATCH("/:appointment_id/status", providers, h.SetStreamStatus)
		streams.POST("/:appointment_id/stop", providers, h.StopStream)
		streams.GET("/:appointment_id/offer", anyone, h.GetOffer)
		streams.POST("/:appointment_id/offer", providers, h.PublishOffer)
		streams.GET("/:appointment_id/answer", anyone, h.GetAnswer)
		streams.POST("/:appointment_id/answer", customers, h.PublishAnswer)
		streams.GET("/:appointment_id/ice", anyone, h.GetCandidates)
		streams.POST("/:appointment_id/ice", anyone, h.PublishCandidate)
		streams.GET("/:appointment_id/events", anyone, h.StreamEvents)
	}

	bills := p.Group("/billing")
	{
		bills.POST("", providers, h.CreateBilling)
		bills.GET("/appointment/:appointment_id", anyone, h.BillingByAppointment)
		bills.GET("/provider/:provider_name", providers, rbac.RequireSelf("provider_name"), h.BillingByProvider)
		bills.GET("/users/:user_id", anyone, h.BillingByUser)
		bills.GET("/:billing_id", anyone, h.GetBilling)
		bills.PUT("/:billing_id/pay", anyone, h.PayBilling)
	}

	appts := p.Group("/appointments")
	{
		appts.GET("/owner/:provider_name", providers, rbac.RequireSelf("provider_name"), h.AppointmentsByProvider)
		appts.GET("/customer/:username", customers, rbac.RequireSelf("username"), h.AppointmentsByCustomer)
		appts.GET("/:appointment_id", anyone, h.GetAppointment)
		appts.PATCH("/:appointment_id/status", providers, h.UpdateAppointmentStatus)
	}

	p.GET("/providers/:provider_name/summary", providers, rbac.RequireSelf("provider_name"), h.ProviderSummary)

	if h.Audit != nil {
		p.POST("/audit/broadcasts/:appointment_id", providers, h.RecordBroadcast)
	}
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT token pair for local development.
//
// NOTE: Real systems must validate credentials; this endpoint is off unless DevTokens is set.
func (h Handlers) IssueToken(c *gin.Context) {
	if !h.DevTokens || h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.UserID == "" || req.Name == "" || !rbac.IsKnownRole(req.Role) {
		badRequest(c, "user_id, name and a known role required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Name, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func caller(c *gin.Context) (name, role string) {
	name, _ = auth.Name(c.Request.Context())
	role, _ = auth.Role(c.Request.Context())
	return name, role
}

// --- Streams ---

type sdpBody struct {
	SDP string `json:"sdp"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (h Handlers) StartStream(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req signaling.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json")
		return
	}
	req.AppointmentID = id
	name, role := caller(c)
	if req.ProviderName == "" {
		req.ProviderName = name
	}
	if role == rbac.RoleProvider && req.ProviderName != name {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	s, err := h.Exchange.StartStream(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) GetStream(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	s, err := h.Exchange.GetStream(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) SetStreamStatus(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req statusBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	st := signaling.StreamStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !st.Valid() {
		badRequest(c, "status must be inactive, active or paused")
		return
	}
	if err := h.Exchange.SetStatus(c.Request.Context(), id, st); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) StopStream(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	if err := h.Exchange.StopStream(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetOffer(c *gin.Context) {
	h.getSDP(c, h.Exchange.Offer)
}

func (h Handlers) GetAnswer(c *gin.Context) {
	h.getSDP(c, h.Exchange.Answer)
}

func (h Handlers) PublishOffer(c *gin.Context) {
	h.publishSDP(c, h.Exchange.PublishOffer)
}

func (h Handlers) PublishAnswer(c *gin.Context) {
	h.publishSDP(c, h.Exchange.PublishAnswer)
}

func (h Handlers) getSDP(c *gin.Context, get func(ctx context.Context, id int64) (string, error)) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	sdp, err := get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sdpBody{SDP: sdp})
}

func (h Handlers) publishSDP(c *gin.Context, publish func(ctx context.Context, id int64, sdp string) error) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req sdpBody
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SDP) == "" {
		badRequest(c, "sdp required")
		return
	}
	if err := publish(c.Request.Context(), id, req.SDP); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) GetCandidates(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	role := signaling.Role(c.Query("role"))
	if !role.Valid() {
		badRequest(c, "role must be provider or customer")
		return
	}
	list, err := h.Exchange.Candidates(c.Request.Context(), id, role)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []signaling.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{"candidates": list})
}

func (h Handlers) PublishCandidate(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var cand signaling.Candidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		badRequest(c, "invalid json")
		return
	}
	// Callers may only publish under their own role.
	if _, role := caller(c); role != rbac.RoleAdmin && string(cand.Role) != role {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role mismatch"})
		return
	}
	if err := h.Exchange.PublishCandidate(c.Request.Context(), id, cand); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ActiveStreams(c *gin.Context) {
	list, err := h.Exchange.ActiveStreams(c.Request.Context(), c.Param("identity"))
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []signaling.ActiveStream{}
	}
	c.JSON(http.StatusOK, gin.H{"streams": list})
}

// StreamEvents relays stream change notifications as server-sent events.
func (h Handlers) StreamEvents(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	w, ok := h.Exchange.(signaling.Watcher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "events not supported"})
		return
	}
	events, err := w.Watch(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(out io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-ticker.C:
			_, err := io.WriteString(out, ": keepalive\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// --- Billing ---

func (h Handlers) CreateBilling(c *gin.Context) {
	var req billing.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	name, role := caller(c)
	if req.ProviderName == "" {
		req.ProviderName = name
	}
	if role == rbac.RoleProvider && req.ProviderName != name {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	rec, err := h.Billing.Create(c.Request.Context(), name, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) PayBilling(c *gin.Context) {
	id, ok := idParam(c, "billing_id")
	if !ok {
		return
	}
	var req billing.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	name, _ := caller(c)
	rec, err := h.Billing.Pay(c.Request.Context(), name, id, req.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) GetBilling(c *gin.Context) {
	id, ok := idParam(c, "billing_id")
	if !ok {
		return
	}
	rec, err := h.Billing.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) BillingByAppointment(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	recs, err := h.Billing.ListByAppointment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h Handlers) BillingByProvider(c *gin.Context) {
	recs, err := h.Billing.ListByProvider(c.Request.Context(), c.Param("provider_name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h Handlers) BillingByUser(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	if _, role := caller(c); role == rbac.RoleCustomer && c.Param("user_id") != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	recs, err := h.Billing.ListByUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// --- Appointments ---

func (h Handlers) AppointmentsByProvider(c *gin.Context) {
	list, err := h.Appointments.ListByProvider(c.Request.Context(), c.Param("provider_name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) AppointmentsByCustomer(c *gin.Context) {
	list, err := h.Appointments.ListByCustomer(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h Handlers) GetAppointment(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	a, err := h.Appointments.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) UpdateAppointmentStatus(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req statusBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	name, _ := caller(c)
	a, err := h.Appointments.UpdateStatus(c.Request.Context(), name, id, appointments.Status(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// --- Reporting ---

func (h Handlers) ProviderSummary(c *gin.Context) {
	req := reporting.ProviderSummaryRequest{ProviderName: c.Param("provider_name")}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			badRequest(c, "from must be RFC3339")
			return
		}
		req.Range.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			badRequest(c, "to must be RFC3339")
			return
		}
		req.Range.To = t
	}
	out, err := h.Reporting.ProviderSummary(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Audit ---

type broadcastEvent struct {
	Started bool `json:"started"`
}

// RecordBroadcast stores a broadcast start or stop reported by a station.
// The actor is always the caller.
func (h Handlers) RecordBroadcast(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req broadcastEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	name, _ := caller(c)
	if err := h.Audit.LogBroadcast(c.Request.Context(), id, name, req.Started); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
