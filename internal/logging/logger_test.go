package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestFromZap(t *testing.T) {
	l := FromZap(zap.NewNop())
	// A logr.Logger over a no-op zap core should not panic on use.
	l.Info("test", "key", "value")
	l.Error(nil, "test error")
}
