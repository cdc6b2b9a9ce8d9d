package main

import (
	"autocare-platform/internal/discovery"
	"autocare-platform/internal/httpapi"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/reconcile"

	"github.com/gin-gonic/gin"
)

// registerRoutes mounts the customer's local API. Bind it to localhost.
func registerRoutes(r *gin.Engine, identity string, v *negotiator.Viewer, p *discovery.Poller, e *reconcile.Engine) {
	httpapi.ViewerHandlers{
		Identity: identity,
		Viewer:   v,
		Poller:   p,
		Engine:   e,
	}.Register(r)
}
