package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrStaffAccessOnly ErrCode = "STAFF_ACCESS_ONLY"
	ErrNotOwner        ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrDuplicateAttempt  ErrCode = "DUPLICATE_ATTEMPT"
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrTestExpired       ErrCode = "TEST_EXPIRED"
	ErrInvalidExtension  ErrCode = "INVALID_EXTENSION"
	ErrNotCompleted      ErrCode = "NOT_COMPLETED"
	ErrTestUnavailable   ErrCode = "TEST_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStaffAccessOnly:
		return "This action is restricted to staff."
	case ErrNotOwner:
		return "This attempt belongs to another student."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "The attempt was modified by another request. Please retry."

	case ErrDuplicateAttempt:
		return "An unfinished attempt already exists for this test."
	case ErrInvalidTransition:
		return "This action is not allowed in the attempt's current state."
	case ErrTestExpired:
		return "Time is up. The attempt has been completed."
	case ErrInvalidExtension:
		return "Extension must be a positive number of minutes."
	case ErrNotCompleted:
		return "The attempt is not completed yet."
	case ErrTestUnavailable:
		return "This test is not accepting attempts."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
