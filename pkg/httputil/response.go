package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var fieldMessages = map[string]string{
	"required": "Field is required",
	"notblank": "Field must not be blank",
	"max":      "Value is too long",
}

func NewSuccessResponse(data interface{}) Response {
	return Response{Status: "success", Data: data}
}

func NewErrorResponse(message string) Response {
	return Response{Status: "error", Message: message}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// StatusFor maps an error to its HTTP status and client-facing message.
// Wrapped causes of application errors are never exposed.
func StatusFor(err error) (int, string) {
	var verrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError

	if appErr, ok := apperrors.As(err); ok {
		return appErr.HTTPStatus(), appErr.Message
	}
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "validation failed"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return http.StatusBadRequest, "malformed request body"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// RespondWithError sends an error response
func RespondWithError(c *gin.Context, err error) {
	status, message := StatusFor(err)
	resp := NewErrorResponse(message)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Errors = FieldErrors(verrs)
	}
	c.AbortWithStatusJSON(status, resp)
}

func FieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		msg := fieldMessages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
