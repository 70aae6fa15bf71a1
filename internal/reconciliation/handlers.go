package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the reconciliation pass over HTTP for operators.
type Handler struct {
	runner *Runner
}

// NewHandler creates a reconciliation handler.
func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterRoutes sets up admin reconciliation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/reconcile", h.Reconcile)
}

// Reconcile handles POST /admin/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.runner.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "reconcile_error",
			"message": "Reconciliation run failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clean":  report.Clean(),
		"report": report,
	})
}
