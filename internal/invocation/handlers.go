package invocation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thecyberlearn/quantum-tasks/internal/agents"
	"github.com/thecyberlearn/quantum-tasks/internal/wallet"
)

// Handler provides HTTP endpoints for invoking agents.
type Handler struct {
	service *Service
}

// NewHandler creates a new invocation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up invocation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/:userId/agents/:agentId/invoke", h.Invoke)
	r.GET("/users/:userId/invocations", h.History)
	r.GET("/users/:userId/invocations/:invocationId", h.Get)
}

// InvokeRequest carries the agent's input payload.
type InvokeRequest struct {
	Input json.RawMessage `json:"input"`
}

// Invoke handles POST /users/:userId/agents/:agentId/invoke
func (h *Handler) Invoke(c *gin.Context) {
	userID := c.Param("userId")
	agentID := c.Param("agentId")

	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Invoke(c.Request.Context(), userID, agentID, req.Input)
	if err != nil {
		switch {
		case errors.Is(err, agents.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "agent_not_found",
				"message": "Unknown agent",
			})
		case errors.Is(err, agents.ErrAgentInactive):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "agent_inactive",
				"message": "This agent is not currently available",
			})
		case errors.Is(err, wallet.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient_balance",
				"message": "Wallet balance is too low for this agent. Top up and try again.",
			})
		case errors.Is(err, ErrAgentUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "agent_unavailable",
				"message": "The agent is temporarily unavailable. No charge applied.",
			})
		case errors.Is(err, ErrAgentProcessingFailed):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "agent_processing_failed",
				"message": "Agent processing failed. No charge applied.",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "invocation_error",
				"message": "Failed to run agent",
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// History handles GET /users/:userId/invocations
func (h *Handler) History(c *gin.Context) {
	userID := c.Param("userId")

	list, err := h.service.History(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "invocation_error",
			"message": "Failed to list invocations",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invocations": list,
		"count":       len(list),
	})
}

// Get handles GET /users/:userId/invocations/:invocationId
func (h *Handler) Get(c *gin.Context) {
	inv, err := h.service.Get(c.Request.Context(), c.Param("userId"), c.Param("invocationId"))
	if err != nil {
		if errors.Is(err, ErrInvocationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "invocation_not_found",
				"message": "Unknown invocation",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "invocation_error",
			"message": "Failed to load invocation",
		})
		return
	}

	c.JSON(http.StatusOK, inv)
}
