package server

import (
	"net/http"

	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetRangeStatus(c *gin.Context) {
	report, err := s.healthSvc.Status(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ImportInvoiceRange(c *gin.Context) {
	var req rangedomain.ParsedAuthorization
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.rangeSvc.Import(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ActivateInvoiceRange(c *gin.Context) {
	item, err := s.rangeSvc.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RetireInvoiceRange(c *gin.Context) {
	item, err := s.rangeSvc.Retire(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListInvoiceRanges(c *gin.Context) {
	items, err := s.rangeSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
