// Package backdashlog builds the default logr.Logger used when a Session is
// constructed with a nil Options.Logger.
package backdashlog

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a production-configured zap logger wrapped as a logr.Logger,
// writing to stderr only. Callers who need a file sink build their own
// zap.Config and wrap it with zapr.NewLogger themselves; this constructor
// only covers the common case.
func New() (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zapLog), nil
}

// Discard returns a no-op logger, used when the host passes a nil Logger
// and New is undesirable (e.g. tests).
func Discard() logr.Logger { return logr.Discard() }
