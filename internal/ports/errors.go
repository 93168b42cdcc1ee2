package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger Specific Errors
	ErrInsufficientFunds = errors.New("insufficient cash balance for operation")
	ErrNoPosition        = errors.New("no open position for symbol")
	ErrTradeConflict     = errors.New("symbol already has an executed trade")
	ErrTradeNotOpen      = errors.New("trade is not in executed state")

	// Price Feed Specific Errors
	ErrFeedUnavailable  = errors.New("price feed is unavailable")
	ErrConnectionFailed = errors.New("failed to connect to the price feed")
	ErrRateLimited      = errors.New("API rate limit exceeded")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
