package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Machine-readable error kinds returned alongside the message so clients can
// react without parsing prose.
const (
	KindValidation           = "VALIDATION_ERROR"
	KindNoActiveCommitment   = "NO_ACTIVE_COMMITMENT"
	KindNonceMismatch        = "NONCE_MISMATCH"
	KindInsufficientBalance  = "INSUFFICIENT_BALANCE"
	KindIneligibleWithdrawal = "INELIGIBLE_WITHDRAWAL"
	KindServiceDisabled      = "SERVICE_DISABLED"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Kind    string            `json:"kind,omitempty"`    // Machine-readable error kind
	Reasons []string          `json:"reasons,omitempty"` // Unmet policy reasons
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Kind = KindValidation
		if verrs, ok := validationErr.(validator.ValidationErrors); ok {
			errorResp.Details = make(map[string]string)
			for _, err := range verrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendErrorKind sends a JSON error response carrying a machine-readable kind.
func SendErrorKind(w http.ResponseWriter, kind, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind})
}

// userIDFromContext resolves the authenticated user set by the auth middleware.
func userIDFromContext(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}
