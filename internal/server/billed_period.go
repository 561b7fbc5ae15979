package server

import (
	"net/http"
	"strings"
	"time"

	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	"github.com/gin-gonic/gin"
)

// GetPendingDays returns the unbilled day range of a stay up to the
// reference date (today when omitted).
func (s *Server) GetPendingDays(c *gin.Context) {
	reference := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("reference_date")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			AbortWithError(c, newValidationError("reference_date", "invalid_reference_date", "expected YYYY-MM-DD"))
			return
		}
		reference = parsed
	}

	pending, err := s.coverageSvc.PendingRange(c.Request.Context(), c.Param("id"), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pending})
}

type createBilledPeriodRequest struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	AmountCents *int64 `json:"amount_cents"`
}

func (s *Server) CreateBilledPeriod(c *gin.Context) {
	var req createBilledPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := time.Parse("2006-01-02", strings.TrimSpace(req.StartDate))
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "expected YYYY-MM-DD"))
		return
	}
	end, err := time.Parse("2006-01-02", strings.TrimSpace(req.EndDate))
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "expected YYYY-MM-DD"))
		return
	}

	period, err := s.coverageSvc.CreatePeriod(c.Request.Context(), coveragedomain.CreatePeriodRequest{
		StayID:      c.Param("id"),
		Start:       start,
		End:         end,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": period})
}

func (s *Server) ListBilledPeriods(c *gin.Context) {
	periods, err := s.coverageSvc.ListPeriods(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": periods})
}
