// Package logger builds the structured slog logger used across the proxy.
// It wraps the standard log/slog package and provides a simple interface for
// application-wide logging.
package logger
