package main

import (
	"autocare-platform/internal/appointments"
	"autocare-platform/internal/authoring"
	"autocare-platform/internal/httpapi"
	"autocare-platform/internal/pricing"
	"autocare-platform/internal/reconcile"
	"autocare-platform/internal/video"

	"github.com/gin-gonic/gin"
)

type stationDeps struct {
	provider     string
	appointments *appointments.Service
	engine       *reconcile.Engine
	authoring    *authoring.Service
	catalog      *pricing.Service
	video        *video.Controller
	bills        httpapi.BillingReader
}

// registerRoutes mounts the provider dashboard API. It listens on the
// station's own port and carries no auth; bind it to localhost.
func registerRoutes(r *gin.Engine, d stationDeps) {
	httpapi.StationHandlers{
		Provider:     d.provider,
		Appointments: d.appointments,
		Engine:       d.engine,
		Authoring:    d.authoring,
		Catalog:      d.catalog,
		Video:        d.video,
		Bills:        d.bills,
	}.Register(r)
}
