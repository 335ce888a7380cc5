package handler

import (
	"net/http"
	"sort"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/gin-gonic/gin"
)

type BeeHandler struct {
	coordinator port.BeeCoordinator
}

// NewBeeHandler lists live bees; a nil coordinator reports none
func NewBeeHandler(coordinator port.BeeCoordinator) *BeeHandler {
	return &BeeHandler{coordinator: coordinator}
}

// GET /api/v1/bees
func (h *BeeHandler) ListBees(c *gin.Context) {
	bees := []*domain.Bee{}
	if h.coordinator != nil {
		active, err := h.coordinator.GetActiveBees(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list bees failed", "detail": err.Error()})
			return
		}
		bees = append(bees, active...)
	}
	sort.Slice(bees, func(i, j int) bool { return bees[i].ID < bees[j].ID })
	c.JSON(http.StatusOK, gin.H{"bees": bees, "count": len(bees)})
}
