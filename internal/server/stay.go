package server

import (
	"net/http"
	"strings"
	"time"

	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) AdmitStay(c *gin.Context) {
	var req staydomain.AdmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.staySvc.Admit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetStayByID(c *gin.Context) {
	item, err := s.staySvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type dischargeRequest struct {
	DischargedAt *time.Time `json:"discharged_at"`
}

func (s *Server) DischargeStay(c *gin.Context) {
	var req dischargeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.staySvc.Discharge(c.Request.Context(), c.Param("id"), req.DischargedAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ChangeStayRate(c *gin.Context) {
	var req staydomain.ChangeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.RateItemID) == "" {
		AbortWithError(c, newValidationError("rate_item_id", "invalid_rate_item_id", "rate item id is required"))
		return
	}

	item, err := s.staySvc.ChangeRate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
