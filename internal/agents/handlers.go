package agents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves the public agent catalog.
type Handler struct {
	store Store
}

// NewHandler creates a new catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents", h.ListAgents)
	r.GET("/agents/:agentId", h.GetAgent)
}

// ListAgents handles GET /agents
func (h *Handler) ListAgents(c *gin.Context) {
	includeInactive := c.Query("all") == "true"

	list, err := h.store.List(c.Request.Context(), !includeInactive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Failed to list agents",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": list,
		"count":  len(list),
	})
}

// GetAgent handles GET /agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.store.Get(c.Request.Context(), c.Param("agentId"))
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "agent_not_found",
				"message": "Unknown agent",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Failed to load agent",
		})
		return
	}

	c.JSON(http.StatusOK, agent)
}
