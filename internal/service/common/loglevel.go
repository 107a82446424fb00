package common

import (
	"context"

	"github.com/oshokin/qubes-preflight/internal/logger"
)

// ApplyLogLevel sets the global logging level from the CLI override when one
// is given, falling back to the configured level. Unknown names are reported
// and the current level kept.
func ApplyLogLevel(ctx context.Context, override, configured string) {
	name := override
	if name == "" {
		name = configured
	}

	if name == "" {
		return
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		logger.WarnKV(ctx, "Unknown log level, keeping current", "log_level", name)

		return
	}

	logger.SetLevel(level)
}
