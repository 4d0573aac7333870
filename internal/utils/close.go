package utils

import (
	"io"

	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

// MustClose closes c and logs any error.
// Use for shutdown paths where a failed close should be visible but not fatal.
func MustClose(c io.Closer, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.Error(err))
	}
}
