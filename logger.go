package ispconfig

import (
	"log/slog"

	"github.com/menta2k/isp-configurator/internal/logging"
)

// SetLogger configures the logger for the configurator and all its
// sub-packages. By default nothing is logged.
//
// Log levels used:
//   - [slog.LevelDebug]: per-stage geometry, translator and partitioner detail
//   - [slog.LevelInfo]: committed configuration passes
//   - [slog.LevelWarn]: stripes left below their minimum width
//   - [slog.LevelError]: session-fatal graph consistency failures
//
// Pass nil to restore silent behaviour. Safe for concurrent use.
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the logger currently in use.
func Logger() *slog.Logger {
	return logging.L()
}
