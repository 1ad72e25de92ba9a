package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
	pricingdomain "github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	proposaldomain "github.com/smallbiznis/proposalpricing/internal/proposal/domain"
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
	ErrUnauthorized   = errors.New("unauthorized")
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

// conflicts are domain states the caller can act on; the sentinel text is
// returned as the error type.
var conflicts = []error{
	pricingdomain.ErrApprovalPending,
	pricingdomain.ErrNoPendingChange,
	pricingdomain.ErrAlreadySubmitted,
	pricingdomain.ErrFinalized,
	pricingdomain.ErrSessionLocked,
	pricingdomain.ErrSessionClosed,
	pricingdomain.ErrDuplicateAdder,
	approvaldomain.ErrAlreadyResolved,
	proposaldomain.ErrAlreadyFinalized,
}

var notFound = []error{
	ErrNotFound,
	pricingdomain.ErrSessionNotFound,
	pricingdomain.ErrUnknownPlan,
	pricingdomain.ErrUnknownAdder,
	discountdomain.ErrUnknownDiscount,
	approvaldomain.ErrNotFound,
	proposaldomain.ErrNotFound,
	gorm.ErrRecordNotFound,
}

var invalid = []error{
	ErrInvalidRequest,
	discountdomain.ErrSystemDiscountEdit,
	approvaldomain.ErrInvalidID,
	approvaldomain.ErrInvalidDecision,
	approvaldomain.ErrInvalidProposal,
	approvaldomain.ErrInvalidRequested,
	proposaldomain.ErrInvalidID,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidAction,
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

	if target := matchAny(err, invalid); target != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Code:    target.Error(),
					Message: "invalid value",
				},
			},
		}
	}

	if target := matchAny(err, conflicts); target != nil {
		return http.StatusConflict, errorPayload{
			Type:    target.Error(),
			Message: err.Error(),
		}
	}

	if target := matchAny(err, notFound); target != nil {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: target.Error(),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, approvaldomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, pricingdomain.ErrPersistence):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    pricingdomain.ErrPersistence.Error(),
			Message: "proposal storage unavailable, pricing state was kept",
		}
	case errors.Is(err, pricingdomain.ErrRecomputeFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    pricingdomain.ErrRecomputeFailed.Error(),
			Message: "pricing could not be recomputed, last good state was kept",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
