package wallet

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thecyberlearn/quantum-tasks/internal/pagination"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	wallet *Wallet
}

// NewHandler creates a new wallet handler.
func NewHandler(w *Wallet) *Handler {
	return &Handler{wallet: w}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/wallet", h.GetBalance)
	r.GET("/users/:userId/wallet/ledger", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/wallet/audit", h.Audit)
}

// GetBalance handles GET /users/:userId/wallet
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("userId")

	account, err := h.wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
	})
}

// GetHistory handles GET /users/:userId/wallet/ledger?limit=&cursor=
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userId")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	var before time.Time
	if cursor != nil {
		before = cursor.CreatedAt
	}

	// Fetch one extra row to learn whether another page exists.
	events, err := h.wallet.History(c.Request.Context(), userID, limit+1, before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(events, limit, func(ev *Event) (time.Time, string) {
		return ev.CreatedAt, ev.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"events":     page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// Audit handles GET /admin/wallet/audit
func (h *Handler) Audit(c *gin.Context) {
	drifts, err := h.wallet.AuditBalances(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"drifts": drifts,
		"count":  len(drifts),
	})
}
