package listing

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NopLogger discards every message.
type NopLogger struct{}

// Debug does nothing.
func (NopLogger) Debug(string, map[string]interface{}) {}

// Info does nothing.
func (NopLogger) Info(string, map[string]interface{}) {}

// Warn does nothing.
func (NopLogger) Warn(string, map[string]interface{}) {}

// Error does nothing.
func (NopLogger) Error(string, map[string]interface{}) {}

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return NopLogger{}
	}

	return logger
}
