package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	aigradingdomain "github.com/smallbiznis/gradewise/internal/aigrading/domain"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	"github.com/smallbiznis/gradewise/internal/authorization"
	bulkgradingdomain "github.com/smallbiznis/gradewise/internal/bulkgrading/domain"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	purchasedomain "github.com/smallbiznis/gradewise/internal/purchase/domain"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
	"github.com/smallbiznis/gradewise/pkg/db/pagination"
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

	Balance   *amount.Amount `json:"balance,omitempty"`
	Required  *amount.Amount `json:"required,omitempty"`
	Shortfall *amount.Amount `json:"shortfall,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
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

	var insufficient *creditdomain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		shortfall := insufficient.Shortfall()
		return http.StatusPaymentRequired, errorPayload{
			Type:      "insufficient_credits",
			Message:   insufficient.Error(),
			Balance:   &insufficient.Balance,
			Required:  &insufficient.Required,
			Shortfall: &shortfall,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, purchasedomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, bulkgradingdomain.ErrBatchInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "batch_in_progress",
			Message: "a grading batch is already running for this submission",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, assessmentdomain.ErrInvalidTransition),
		errors.Is(err, creditdomain.ErrDuplicateGrant),
		errors.Is(err, creditdomain.ErrConcurrentUpdate):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, aigradingdomain.ErrGradingProvider):
		return http.StatusBadGateway, errorPayload{
			Type:    "grading_provider_error",
			Message: "grading provider unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, purchasedomain.ErrWebhookDisabled):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the type and code the request logger records.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
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
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidFeature),
		errors.Is(err, creditdomain.ErrInvalidPlan),
		errors.Is(err, creditdomain.ErrInvalidReason),
		errors.Is(err, usagedomain.ErrInvalidDateRange),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, assessmentdomain.ErrInvalidMarks),
		errors.Is(err, assessmentdomain.ErrFieldNotGraded),
		errors.Is(err, bulkgradingdomain.ErrInvalidRequest),
		errors.Is(err, purchasedomain.ErrInvalidEvent),
		errors.Is(err, purchasedomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, creditdomain.ErrAccountNotFound),
		errors.Is(err, assessmentdomain.ErrSubmissionNotFound),
		errors.Is(err, assessmentdomain.ErrResponseNotFound),
		errors.Is(err, assessmentdomain.ErrFieldNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bulkgradingdomain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return pagination.ErrInvalidPageToken.Error()
	default:
		for _, target := range []error{
			authorization.ErrInvalidRole,
			creditdomain.ErrInvalidAmount,
			creditdomain.ErrInvalidFeature,
			creditdomain.ErrInvalidPlan,
			creditdomain.ErrInvalidReason,
			usagedomain.ErrInvalidDateRange,
			assessmentdomain.ErrInvalidMarks,
			assessmentdomain.ErrFieldNotGraded,
			purchasedomain.ErrInvalidEvent,
			purchasedomain.ErrInvalidPayload,
		} {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "field_not_graded":
		return "field carries no marks"
	default:
		return "invalid value"
	}
}
