package errors

// ErrorCode represents a machine-readable error identifier surfaced on
// the API and in logs. The processors never store these on the
// transaction row; terminal rows carry the failure reasons defined in
// the transaction package instead.
type ErrorCode string

// Validation errors (request input).
const (
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeInvalidField  ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
	ErrCodeInvalidWallet ErrorCode = "invalid_wallet"
	ErrCodeInvalidBank   ErrorCode = "invalid_bank_details"
)

// Domain errors (entity state).
const (
	ErrCodeTransactionNotFound   ErrorCode = "transaction_not_found"
	ErrCodeQuoteNotFound         ErrorCode = "quote_not_found"
	ErrCodeQuoteExpired          ErrorCode = "quote_expired"
	ErrCodeQuoteAlreadyConsumed  ErrorCode = "quote_already_consumed"
	ErrCodeInvalidTransition     ErrorCode = "invalid_state_transition"
	ErrCodeAmountMismatch        ErrorCode = "amount_mismatch"
	ErrCodeInsufficientLiquidity ErrorCode = "insufficient_liquidity"
)

// Webhook errors.
const (
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeUnknownProvider  ErrorCode = "unknown_provider"
	ErrCodeMalformedEvent   ErrorCode = "malformed_event"
)

// External service errors.
const (
	ErrCodeProviderError ErrorCode = "provider_error"
	ErrCodeHorizonError  ErrorCode = "horizon_error"
	ErrCodeNetworkError  ErrorCode = "network_error"
)

// Internal errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// HTTPStatus returns the status code the API surface maps this error to.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidWallet,
		ErrCodeInvalidBank,
		ErrCodeMalformedEvent:
		return 400

	case ErrCodeInvalidSignature:
		return 401

	case ErrCodeTransactionNotFound,
		ErrCodeQuoteNotFound,
		ErrCodeUnknownProvider:
		return 404

	case ErrCodeQuoteExpired,
		ErrCodeQuoteAlreadyConsumed,
		ErrCodeInvalidTransition,
		ErrCodeAmountMismatch:
		return 409

	case ErrCodeProviderError,
		ErrCodeHorizonError,
		ErrCodeNetworkError:
		return 502

	default:
		return 500
	}
}
