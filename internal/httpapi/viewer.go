package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autocare-platform/internal/discovery"
	"autocare-platform/internal/negotiator"
	"autocare-platform/internal/reconcile"
	"autocare-platform/internal/signaling"
)

// ViewerHandlers is the customer daemon's local API.
type ViewerHandlers struct {
	Identity string
	Viewer   *negotiator.Viewer
	Poller   *discovery.Poller
	// Engine is optional; it reconciles the customer's own bills.
	Engine *reconcile.Engine
}

func (h ViewerHandlers) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "identity": h.Identity}) })
	r.GET("/streams", h.Streams)
	r.GET("/session", h.Session)
	r.POST("/view/:appointment_id", h.View)
	r.POST("/session/stop", h.Stop)
	r.POST("/session/retry", h.Retry)
	r.POST("/session/play", h.Play)
	r.POST("/session/pause", h.Pause)
	if h.Engine != nil {
		r.GET("/billing", func(c *gin.Context) { c.JSON(http.StatusOK, h.Engine.Snapshot()) })
	}
}

type snapshotView struct {
	Streams []signaling.ActiveStream `json:"streams"`
	Added   []int64                  `json:"added,omitempty"`
	Removed []int64                  `json:"removed,omitempty"`
	Error   string                   `json:"error,omitempty"`
	At      time.Time                `json:"at"`
}

func (h ViewerHandlers) Streams(c *gin.Context) {
	s := h.Poller.Latest()
	out := snapshotView{Streams: s.Streams, Added: s.Added, Removed: s.Removed, At: s.At}
	if out.Streams == nil {
		out.Streams = []signaling.ActiveStream{}
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (h ViewerHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.Viewer.Status())
}

// View starts a live view. Errors from negotiation are returned synchronously;
// the session status shows FAILED with the same error.
func (h ViewerHandlers) View(c *gin.Context) {
	id, ok := idParam(c, "appointment_id")
	if !ok {
		return
	}
	if err := h.Viewer.View(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Viewer.Status())
}

func (h ViewerHandlers) Stop(c *gin.Context) {
	h.Viewer.Stop()
	c.JSON(http.StatusOK, h.Viewer.Status())
}

func (h ViewerHandlers) Retry(c *gin.Context) {
	h.sessionAction(c, h.Viewer.Retry)
}

func (h ViewerHandlers) Play(c *gin.Context) {
	h.sessionAction(c, h.Viewer.Play)
}

func (h ViewerHandlers) Pause(c *gin.Context) {
	h.sessionAction(c, h.Viewer.Pause)
}

func (h ViewerHandlers) sessionAction(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Viewer.Status())
}
