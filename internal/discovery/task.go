package discovery

import (
	"context"
	"sync"
)

// Task is the asynchronous part of a page's discovery. It completes exactly
// once, after the item is marked DiscoveryDone and the frontier resumed.
type Task struct {
	done  chan struct{}
	once  sync.Once
	links []string
	err   error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Links returns the links the task considered for queueing. Valid after Done.
func (t *Task) Links() []string {
	<-t.done
	return t.links
}

// Err returns the collaborator error that cut the task short, if any.
// Valid after Done.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// complete records the outcome and signals completion. Only the first call
// has any effect.
func (t *Task) complete(links []string, err error, finish func()) {
	t.once.Do(func() {
		defer close(t.done)
		t.links = links
		t.err = err
		finish()
	})
}
