package observability

import (
	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
)

// Logger returns the global safe logger instance
func Logger() *logging.SafeLogger {
	return logging.Logger
}
