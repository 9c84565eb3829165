// Package lifecycle tracks the process-wide draining flag consulted by the
// session registry and the health handler during graceful shutdown.
package lifecycle

import "sync/atomic"

type Lifecycle struct {
	draining atomic.Bool
}

func New() *Lifecycle {
	return &Lifecycle{}
}

func (l *Lifecycle) SetDraining(v bool) {
	l.draining.Store(v)
}

func (l *Lifecycle) IsDraining() bool {
	return l.draining.Load()
}
