package server

import (
	"errors"
	"net/http"
	"strings"

	coveragedomain "github.com/clinidesk/caja/internal/coverage/domain"
	invoicedomain "github.com/clinidesk/caja/internal/invoice/domain"
	rangedomain "github.com/clinidesk/caja/internal/invoicerange/domain"
	paymentdomain "github.com/clinidesk/caja/internal/payment/domain"
	staydomain "github.com/clinidesk/caja/internal/stay/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isIssuanceBlockedError(err):
		// Issuance stops are operational, not client mistakes: the request
		// was well-formed but the authorized range cannot serve it.
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "issuance_blocked",
			Message: issuanceBlockedMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, staydomain.ErrInvalidDischargeTime),
		errors.Is(err, staydomain.ErrInvalidRate),
		errors.Is(err, staydomain.ErrInvalidPatientRef),
		errors.Is(err, staydomain.ErrVariantMismatch),
		errors.Is(err, staydomain.ErrStayDischarged),
		errors.Is(err, coveragedomain.ErrInvalidPeriod),
		errors.Is(err, paymentdomain.ErrInvalidSource),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrPaymentCancelled),
		errors.Is(err, rangedomain.ErrInvalidAuthorization),
		errors.Is(err, rangedomain.ErrRangeNotActivatable),
		errors.Is(err, invoicedomain.ErrInvalidDocumentType):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, coveragedomain.ErrPeriodOverlap),
		errors.Is(err, rangedomain.ErrDuplicateCAI),
		errors.Is(err, rangedomain.ErrActiveRangeExists):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, coveragedomain.ErrPeriodOverlap):
		return "the requested dates overlap an already billed period of this stay"
	case errors.Is(err, rangedomain.ErrDuplicateCAI):
		return "an invoice range with this CAI already exists"
	case errors.Is(err, rangedomain.ErrActiveRangeExists):
		return "another invoice range is already active; retire it first"
	default:
		return "conflict"
	}
}

func isIssuanceBlockedError(err error) bool {
	switch {
	case errors.Is(err, rangedomain.ErrRangeExhausted),
		errors.Is(err, rangedomain.ErrRangeExpired),
		errors.Is(err, rangedomain.ErrNoActiveRange):
		return true
	default:
		return false
	}
}

func issuanceBlockedMessage(err error) string {
	switch {
	case errors.Is(err, rangedomain.ErrRangeExhausted):
		return "the active invoice range has no numbers left; activate a replacement authorization"
	case errors.Is(err, rangedomain.ErrRangeExpired):
		return "the active invoice range is past its issuance deadline; activate a replacement authorization"
	case errors.Is(err, rangedomain.ErrNoActiveRange):
		return "no active invoice range; import and activate an authorization before issuing legal invoices"
	default:
		return "invoice issuance is blocked"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, staydomain.ErrStayNotFound),
		errors.Is(err, staydomain.ErrRateItemNotFound),
		errors.Is(err, staydomain.ErrRateVariantNotFound),
		errors.Is(err, coveragedomain.ErrPeriodNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, rangedomain.ErrRangeNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog labels request errors for the logging middleware.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return "domain", payload.Type
	default:
		return "client", payload.Type
	}
}
