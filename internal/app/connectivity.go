package app

import (
	"context"
	"sync/atomic"
	"time"
)

// Connectivity tracks whether the backing store is reachable. It replaces the
// process-wide mutable flag of the system this API succeeds: set by the
// startup probe, updated on explicit retry, read wherever degraded-mode
// behavior is needed. Reads stay available while offline; writes are refused.
type Connectivity struct {
	online atomic.Bool
	probe  func(ctx context.Context) error
}

func NewConnectivity(probe func(ctx context.Context) error) *Connectivity {
	return &Connectivity{probe: probe}
}

func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Probe runs the connectivity check and records the result.
func (c *Connectivity) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok := c.probe(ctx) == nil
	c.online.Store(ok)
	return ok
}
