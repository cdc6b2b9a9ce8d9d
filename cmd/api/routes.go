package main

import (
	"database/sql"
	"net/http"
	"time"

	"autocare-platform/internal/appointments"
	"autocare-platform/internal/audit"
	"autocare-platform/internal/auth"
	"autocare-platform/internal/billing"
	"autocare-platform/internal/httpapi"
	"autocare-platform/internal/reporting"
	"autocare-platform/internal/signaling"
	"autocare-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type deps struct {
	db           *sql.DB
	rdb          *redis.Client
	auth         *auth.Manager
	exchange     signaling.Exchange
	billing      *billing.Service
	appointments *appointments.Service
	reporting    *reporting.Service
	audit        *audit.Service
	devTokens    bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "postgres unavailable"})
			return
		}
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := httpapi.Handlers{
		Auth:         d.auth,
		Exchange:     d.exchange,
		Billing:      d.billing,
		Appointments: d.appointments,
		Reporting:    d.reporting,
		Audit:        d.audit,
		DevTokens:    d.devTokens,
	}
	h.Register(r, auth.RequireAccessToken(d.auth))
}
