// Package logging builds the process-wide zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// New builds a logger based on LOG_LEVEL and redirects the standard
// library logger into it so all output is unified.
func New() *zap.Logger {
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	var logger *zap.Logger
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		logger = l
	} else {
		l, _ := zap.NewProduction()
		logger = l
	}
	_ = zap.RedirectStdLog(logger)
	return logger
}
