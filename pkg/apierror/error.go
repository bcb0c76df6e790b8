package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if len(e.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = e.Details
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Details:    details,
	}
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return &Error{
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}

// New creates an error with an explicit status and machine-readable code.
func New(statusCode int, code, message string) *Error {
	return &Error{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Fulfillment error codes. These are part of the client contract and must
// stay machine-readable and stable.

// InvalidVIN creates an error for a structurally invalid or unresolvable VIN.
func InvalidVIN(message string) *Error {
	if message == "" {
		message = "VIN is missing or invalid"
	}
	return New(http.StatusBadRequest, "invalid_vin", message)
}

// VINRejected creates a 422 error for a VIN the report provider rejected.
func VINRejected(message string) *Error {
	if message == "" {
		message = "The report provider rejected this VIN"
	}
	return New(http.StatusUnprocessableEntity, "invalid_vin", message)
}

// InsufficientCredits creates a 402 error for an empty credit balance.
func InsufficientCredits() *Error {
	return New(http.StatusPaymentRequired, "insufficient_credits",
		"No report credits available. Purchase credits to continue.")
}

// PurchaseRequired creates a 401 error when neither credits nor a receipt
// were presented.
func PurchaseRequired() *Error {
	return New(http.StatusUnauthorized, "purchase_required",
		"Sign in with credits or present a one-time purchase receipt.")
}

// ReceiptUsed creates a 409 error for an already-consumed receipt.
func ReceiptUsed() *Error {
	return New(http.StatusConflict, "receipt_used",
		"This purchase receipt has already been used.")
}

// PaymentIncomplete creates a 402 error for an unpaid receipt.
func PaymentIncomplete() *Error {
	return New(http.StatusPaymentRequired, "payment_incomplete",
		"Payment for this receipt has not completed.")
}

// ReceiptInvalid creates a 402 error when a receipt could not be verified.
func ReceiptInvalid() *Error {
	return New(http.StatusPaymentRequired, "receipt_invalid",
		"The purchase receipt could not be verified. Contact support if you were charged.")
}

// ProviderError creates a 502 error for a transient upstream failure.
func ProviderError() *Error {
	return New(http.StatusBadGateway, "provider_error",
		"The report provider is temporarily unavailable. You have not been charged.")
}

// ReportNotFound creates a 404 error with the fulfillment contract code.
func ReportNotFound(message string) *Error {
	if message == "" {
		message = "Report not found"
	}
	return New(http.StatusNotFound, "not_found", message)
}

// AlreadyCached creates a 409 error for checkout attempts on a cached VIN.
func AlreadyCached() *Error {
	return New(http.StatusConflict, "already_cached",
		"A report for this VIN is already available. No purchase is needed.")
}
