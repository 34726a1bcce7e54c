package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medisched/clinic-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Error    *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrNotFound:             http.StatusNotFound,
	errors.ErrValidation:           http.StatusBadRequest,
	errors.ErrUnauthorized:         http.StatusForbidden,
	errors.ErrSlotConflict:         http.StatusConflict,
	errors.ErrInvalidTransition:    http.StatusConflict,
	errors.ErrPreconditionFailed:   http.StatusPreconditionFailed,
	errors.ErrTreatmentUnavailable: http.StatusUnprocessableEntity,
	errors.ErrInternal:             http.StatusInternalServerError,
}

var codeNames = map[errors.ErrorCode]string{
	errors.ErrNotFound:             "NOT_FOUND",
	errors.ErrValidation:           "VALIDATION_ERROR",
	errors.ErrUnauthorized:         "UNAUTHORIZED",
	errors.ErrSlotConflict:         "SLOT_CONFLICT",
	errors.ErrInvalidTransition:    "INVALID_TRANSITION",
	errors.ErrPreconditionFailed:   "PRECONDITION_FAILED",
	errors.ErrTreatmentUnavailable: "TREATMENT_UNAVAILABLE",
	errors.ErrInternal:             "INTERNAL_ERROR",
}

// StatusOf maps an error to its HTTP status code.
func StatusOf(err error) int {
	if status, ok := statusByCode[errors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithCreated sends a success response for a newly created resource
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithWarnings sends a success response for an operation whose
// side effects partially failed. The primary state change committed;
// warnings tell the caller what still needs attention.
func RespondWithWarnings(c *gin.Context, data interface{}, warnings []string) {
	c.JSON(http.StatusOK, Response{
		Success:  true,
		Data:     data,
		Warnings: warnings,
	})
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	message := "internal server error"
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && code != errors.ErrInternal {
		message = appErr.Message
	}
	c.JSON(StatusOf(err), Response{
		Success: false,
		Error: &Error{
			Code:    codeNames[code],
			Message: message,
		},
	})
}
