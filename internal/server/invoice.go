package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/clinidesk/caja/internal/invoice/domain"
	"github.com/gin-gonic/gin"
)

// IssueInvoice issues (or returns the already issued) invoice for a
// payment. Safe to retry: the same payment always maps to one document.
func (s *Server) IssueInvoice(c *gin.Context) {
	var req invoicedomain.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "payment id is required"))
		return
	}

	item, err := s.invoiceSvc.Issue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := snowflake.ParseString(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListInvoices(c *gin.Context) {
	if paymentID := strings.TrimSpace(c.Query("payment_id")); paymentID != "" {
		item, err := s.invoiceSvc.GetByPayment(c.Request.Context(), paymentID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []invoicedomain.Invoice{item}})
		return
	}

	items, err := s.invoiceSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
