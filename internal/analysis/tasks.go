package analysis

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// task is one tracked background unit.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the task and waits for it to return or for ctx to end.
func (t *task) stop(ctx context.Context) bool {
	t.cancel()
	select {
	case <-t.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// taskGroup tracks background tasks so they can be cancelled and joined.
type taskGroup struct {
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[*task]struct{}
}

func newTaskGroup(logger *zap.Logger) *taskGroup {
	ctx, cancel := context.WithCancel(context.Background())
	return &taskGroup{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*task]struct{}),
	}
}

// Go runs fn in a tracked goroutine. fn must return once its context is done.
func (g *taskGroup) Go(name string, fn func(ctx context.Context)) *task {
	ctx, cancel := context.WithCancel(g.ctx)
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}

	g.mu.Lock()
	g.tasks[t] = struct{}{}
	g.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			g.mu.Lock()
			delete(g.tasks, t)
			g.mu.Unlock()
			close(t.done)
		}()
		fn(ctx)
	}()
	return t
}

// Len returns the number of running tasks.
func (g *taskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Shutdown cancels every task and waits for all of them to return.
func (g *taskGroup) Shutdown(ctx context.Context) error {
	g.cancel()

	g.mu.Lock()
	pending := make([]*task, 0, len(g.tasks))
	for t := range g.tasks {
		pending = append(pending, t)
	}
	g.mu.Unlock()

	for _, t := range pending {
		if !t.stop(ctx) {
			g.logger.Warn("Background task did not stop in time", zap.String("task", t.name))
			return ctx.Err()
		}
	}
	return nil
}
