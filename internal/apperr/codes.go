package apperr

// Stable machine-readable error codes.
const (
	CodeInternal              = "INTERNAL_ERROR"
	CodeInvalidJSON           = "INVALID_JSON"
	CodeInvalidID             = "INVALID_ID"
	CodeInvalidPatch          = "INVALID_PATCH"
	CodeInvalidField          = "INVALID_FIELD"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeReadOnly              = "READ_ONLY_ACCESS"
	CodeDeleteOwnUser         = "DELETE_OWN_USER"
	CodeDeleteSpecialUser     = "DELETE_SPECIAL_USER"
	CodeInvalidUserRole       = "INVALID_USER_ROLE"
	CodeChangeOwnProperty     = "CHANGE_OWN_PROPERTY"
	CodeChangeResellerDenied  = "CHANGE_RESELLER_FORBIDDEN"
	CodeEntryNotFound         = "ENTRY_NOT_FOUND"
	CodeDuplicateEntry        = "DUPLICATE_ENTRY"
	CodeReferenceInvalid      = "REFERENCE_INVALID"
	CodeResellerIDInvalid     = "RESELLER_ID_INVALID"
	CodeContactActiveContract = "CONTACT_HAS_ACTIVE_CONTRACT"
	CodePasswordAlreadyUsed   = "PASSWORD_ALREADY_USED"
	CodeJournalWriteFailed    = "JOURNAL_WRITE_FAILED"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	CodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
)
