package ports

import "context"

// Logger is the logging contract for the decision pipeline and the trade
// monitor. Callers attach structured fields (symbol, tradeID, scores) as
// optional maps; implementations decide the output format. Error takes the
// error separately so adapters can render it as a first-class field.
type Logger interface {
	// Debug logs a message at Debug level.
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	// Info logs a message at Info level.
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	// Warn logs a message at Warning level.
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs an error with an accompanying message at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
