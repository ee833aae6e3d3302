package slab

import "go.uber.org/zap"

// Option configures an Allocator at construction time.
type Option func(*allocatorConfig)

type allocatorConfig struct {
	logger *zap.Logger
}

func defaultConfig() *allocatorConfig {
	return &allocatorConfig{logger: zap.NewNop()}
}

// WithLogger injects a *zap.Logger for Allocator's debug-level trace of
// fresh region allocations. Defaults to zap.NewNop() when not supplied, matching
// the inject-a-logger-or-default-to-nop convention used across the
// retrieval pack.
func WithLogger(l *zap.Logger) Option {
	return func(c *allocatorConfig) { c.logger = l }
}
