// Package logging builds the log/slog logger shared by the binaries.
package logging
