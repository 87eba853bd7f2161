// Package logging builds the structured logger shared by the core packages.
//
// Every core entry point accepted a `verbose bool` in the original
// prototype and printed with fmt.Printf when set. This package replaces
// that pattern with a single *zap.Logger, nil-safe at every call site via
// NopIfNil, so callers that don't care about diagnostics can pass nil.
package logging

import "go.uber.org/zap"

// New builds a console-friendly logger. When verbose is false the logger
// only emits warnings and above.
func New(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NopIfNil returns a no-op logger in place of a nil one, so packages can
// accept an optional *zap.Logger without nil-checking before every call.
func NopIfNil(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
