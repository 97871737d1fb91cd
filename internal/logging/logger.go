package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// FromZap bridges a *zap.Logger into the logr.Logger interface components
// depend on, so business packages are not coupled to zap directly.
func FromZap(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
