package logging

import (
	"go.uber.org/zap"
)

// New builds the process logger: human-readable in dev, JSON elsewhere.
func New(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
