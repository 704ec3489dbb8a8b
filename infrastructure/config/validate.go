package config

import "fmt"

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateRequired rejects an empty string.
func ValidateRequired(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidatePort rejects ports outside 1..65535.
func ValidatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535"}
	}
	return nil
}

// ValidateRange rejects values outside [low, high].
func ValidateRange(field string, value, low, high float64) error {
	if value < low || value > high {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %g and %g", low, high)}
	}
	return nil
}

// ValidatePositive rejects zero and negative values.
func ValidatePositive(field string, value int) error {
	if value <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

// ValidateLogLevel accepts the levels understood by the logger package.
func ValidateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "warning", "error", "fatal":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"}
	}
}
