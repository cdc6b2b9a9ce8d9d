package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/authoring"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/pricing"
	"autocare-platform/internal/reconcile"
	"autocare-platform/internal/video"
)

// BillingReader loads one bill for the billing-detail view.
type BillingReader interface {
	GetBilling(ctx context.Context, billingID int64) (billing.Record, error)
}

// StationHandlers is the provider daemon's local dashboard API.
type StationHandlers struct {
	Provider     string
	Appointments *appointments.Service
	Engine       *reconcile.Engine
	Authoring    *authoring.Service
	Catalog      *pricing.Service
	Video        *video.Controller
	Bills        BillingReader
}

func (h StationHandlers) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": h.Provider}) })

	r.GET("/appointments", h.Dashboard)
	r.PATCH("/appointments/:appointment_id/status", h.UpdateStatus)

	r.GET("/billing", h.Dashboard)
	r.POST("/billing/refresh", h.Refresh)
	r.GET("/billing/:appointment_id/gate", h.Gate)
	r.POST("/billing/:appointment_id", h.Author)
	r.POST("/billing/:appointment_id/pay", h.Pay)
	r.GET("/bills/:billing_id", h.BillDetail)
	r.GET("/catalog", h.ListCatalog)

	r.GET("/broadcasts", h.Broadcasts)
	r.POST("/broadcasts/:appointment_id/play", h.Play)
	r.POST("/broadcasts/:appointment_id/pause", h.Pause)
	r.POST("/broadcasts/:appointment_id/stop", h.StopBroadcast)
}

// Dashboard returns the last reconciled view.
func (h StationHandlers) Dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.Engine.Snapshot())
}

func (h StationHandlers) Refresh(c *gin.Context) {
	ran, err := h.Engine.Refresh(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ran": ran, "snapshot": h.Engine.Snapshot()})
}

func (h StationHandlers) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req statusBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	a, err := h.Appointments.UpdateStatus(c.Request.Context(), h.Provider, id, appointments.Status(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h StationHandlers) Gate(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	d, err := h.Authoring.Gate(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type authorRequest struct {
	Selections []pricing.Selection `json:"selections"`
	// Replace supersedes a pending bill instead of failing.
	Replace bool `json:"replace"`
}

func (h StationHandlers) Author(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req authorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	appt, err := h.appointment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	var rec billing.Record
	if req.Replace {
		rec, err = h.Authoring.Replace(c.Request.Context(), appt, req.Selections)
	} else {
		rec, err = h.Authoring.Submit(c.Request.Context(), appt, req.Selections)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/bills/"+strconv.FormatInt(rec.ID, 10))
	c.JSON(http.StatusCreated, rec)
}

// appointment prefers the reconciled listing and falls back to the store.
func (h StationHandlers) appointment(ctx context.Context, id int64) (appointments.Appointment, error) {
	for _, a := range h.Engine.Snapshot().Appointments {
		if a.ID == id {
			return a, nil
		}
	}
	return h.Appointments.Get(ctx, id)
}

func (h StationHandlers) Pay(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	var req billing.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	rec, err := h.Authoring.Pay(c.Request.Context(), id, req.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h StationHandlers) BillDetail(c *gin.Context) {
	id, ok := idParam(c, "billing_id")
	if !ok {
		return
	}
	rec, err := h.Bills.GetBilling(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"billing": rec, "integrity_error": verifyMessage(rec)})
}

func verifyMessage(rec billing.Record) string {
	if err := rec.Verify(); err != nil {
		return err.Error()
	}
	return ""
}

func (h StationHandlers) ListCatalog(c *gin.Context) {
	list, err := h.Catalog.Catalog(c.Request.Context(), h.Provider)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h StationHandlers) Broadcasts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live": h.Video.Live()})
}

func (h StationHandlers) Play(c *gin.Context) {
	h.broadcastAction(c, h.Video.Play)
}

func (h StationHandlers) Pause(c *gin.Context) {
	h.broadcastAction(c, h.Video.Pause)
}

func (h StationHandlers) StopBroadcast(c *gin.Context) {
	h.broadcastAction(c, h.Video.Stop)
}

func (h StationHandlers) broadcastAction(c *gin.Context, fn func(ctx context.Context, appointmentID int64) error) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
