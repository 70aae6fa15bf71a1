package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thecyberlearn/quantum-tasks/internal/payments"
)

// Handler provides HTTP endpoints for the top-up flow.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up checkout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallet/topup/amounts", h.GetAmounts)
	r.POST("/users/:userId/wallet/topup", h.StartTopUp)
	r.GET("/users/:userId/wallet/topup", h.ListSessions)
	r.POST("/users/:userId/wallet/topup/:sessionId/verify", h.VerifyTopUp)
}

// GetAmounts handles GET /wallet/topup/amounts
func (h *Handler) GetAmounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"amounts": TopUpAmounts,
	})
}

// TopUpRequest selects one of the menu amounts.
type TopUpRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// StartTopUp handles POST /users/:userId/wallet/topup
func (h *Handler) StartTopUp(c *gin.Context) {
	userID := c.Param("userId")

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sess, err := h.service.Start(c.Request.Context(), userID, req.Amount)
	if err != nil {
		if errors.Is(err, ErrInvalidTopUpAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Top-up amount must be one of the listed values",
				"amounts": TopUpAmounts,
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "checkout_error",
			"message": "Failed to start checkout",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": sess,
	})
}

// ListSessions handles GET /users/:userId/wallet/topup
func (h *Handler) ListSessions(c *gin.Context) {
	userID := c.Param("userId")

	sessions, err := h.service.ListSessions(c.Request.Context(), userID, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "checkout_error",
			"message": "Failed to list sessions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
	})
}

// VerifyTopUp handles POST /users/:userId/wallet/topup/:sessionId/verify
func (h *Handler) VerifyTopUp(c *gin.Context) {
	userID := c.Param("userId")
	sessionID := c.Param("sessionId")

	result, err := h.service.Verify(c.Request.Context(), userID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "session_not_found",
				"message": "Unknown checkout session",
			})
		case errors.Is(err, ErrNotSessionOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_session_owner",
				"message": "Checkout session belongs to another user",
			})
		case errors.Is(err, ErrSessionExpired):
			c.JSON(http.StatusGone, gin.H{
				"error":   "session_expired",
				"message": "This checkout session expired. Start a new top-up.",
			})
		case errors.Is(err, ErrPaymentNotCompleted):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "payment_not_completed",
				"message": "Payment has not completed. Finish paying, then verify again, or contact support.",
			})
		case errors.Is(err, payments.ErrVerificationUnavailable):
			// Not a "no": the provider could not answer. Nothing changed.
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "verification_unavailable",
				"message": "Could not verify the payment right now. Please retry in a moment.",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "verification_error",
				"message": "Failed to verify payment",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  result.Session.Status,
		"session": result.Session,
		"event":   result.Event,
		"account": result.Account,
	})
}
