// Package worker provides the goroutine pools that background work runs on.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"postscript/internal/observability"

	"github.com/panjf2000/ants/v2"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools holds the index sync pool and the pool for detached maintenance jobs.
type Pools struct {
	Index      *Pool
	Background *Pool

	// serviceCtx is the service lifecycle context for detached tasks
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains Worker Pool configuration.
type PoolConfig struct {
	IndexPoolSize      int
	BackgroundPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		IndexPoolSize:      8,
		BackgroundPoolSize: 2,
	}
}

// NewPool creates a single named pool. Submit blocks while all workers are busy.
func NewPool(name string, size int) (*Pool, error) {
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(panicHandler(name)),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

func panicHandler(name string) func(interface{}) {
	return func(p interface{}) {
		observability.Logger.Error("Worker panic recovered",
			"pool", name,
			"panic", p,
			"stack", string(debug.Stack()),
		)
	}
}

// NewPools creates Worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	index, err := NewPool("index", cfg.IndexPoolSize)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	background, err := NewPool("background", cfg.BackgroundPoolSize)
	if err != nil {
		index.pool.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Index:         index,
		Background:    background,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// may have been cancelled while queued
		select {
		case <-ctx.Done():
			observability.Logger.Debug("Task skipped: context cancelled",
				"pool", p.name,
				"error", ctx.Err(),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Running is the number of tasks currently executing.
func (p *Pool) Running() int { return p.pool.Running() }

// Release waits up to timeout for running tasks and closes the pool.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

// SubmitDetached submits a background task that outlives the request that
// started it but still stops on shutdown.
func (p *Pools) SubmitDetached(task Task) error {
	return p.Background.Submit(p.serviceCtx, task)
}

// Shutdown cancels detached tasks, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Index.Release(shutdownTimeout); err != nil {
		observability.Logger.Warn("Index pool shutdown timeout", "error", err)
	}
	if err := p.Background.Release(shutdownTimeout); err != nil {
		observability.Logger.Warn("Background pool shutdown timeout", "error", err)
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"index": map[string]int{
			"running": p.Index.pool.Running(),
			"free":    p.Index.pool.Free(),
			"cap":     p.Index.pool.Cap(),
		},
		"background": map[string]int{
			"running": p.Background.pool.Running(),
			"free":    p.Background.pool.Free(),
			"cap":     p.Background.pool.Cap(),
		},
	}
}
