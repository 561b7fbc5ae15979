package server

import (
	"net/http"

	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateRateItem(c *gin.Context) {
	var req staydomain.CreateRateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.staySvc.CreateRateItem(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListRateItems(c *gin.Context) {
	items, err := s.staySvc.ListRateItems(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateRateVariant(c *gin.Context) {
	var req staydomain.CreateRateVariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.staySvc.CreateRateVariant(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}
