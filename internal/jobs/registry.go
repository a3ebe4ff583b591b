package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/researchbridge-backend/internal/types"
)

// Executor runs a research run to completion. Its outcome is visible only
// through persisted state; the returned error is for the run record.
type Executor interface {
	Execute(ctx context.Context, desc RunDescriptor) error
}

// SessionFailer marks a session failed when its run dies before the
// executor could do so itself.
type SessionFailer interface {
	FailSession(ctx context.Context, sessionID uuid.UUID, reason error) error
}

// Dispatcher hands a run off for background execution without waiting on it.
type Dispatcher interface {
	Dispatch(ctx context.Context, desc RunDescriptor) error
}

type Registry struct {
	mu        sync.RWMutex
	executors map[types.RunKind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: map[types.RunKind]Executor{}}
}

func (r *Registry) Register(kind types.RunKind, exec Executor) error {
	if exec == nil {
		return fmt.Errorf("nil executor for %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor already registered for %q", kind)
	}
	r.executors[kind] = exec
	return nil
}

func (r *Registry) Get(kind types.RunKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	return exec, ok
}
