package node

import (
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// TaskFunc is the body of a job or worker. Workers must return once ctx is
// cancelled.
type TaskFunc func(ctx context.Context) error

type taskKind int

const (
	jobTask taskKind = iota
	workerTask
)

func (k taskKind) String() string {
	if k == workerTask {
		return "worker"
	}
	return "job"
}

type pendingTask struct {
	kind taskKind
	fn   TaskFunc
}

// taskSet holds the background tasks of one component node.
//
// Tasks added before the node finished expanding are queued. Once started,
// a persistent session runs them; a stateless one discards them.
type taskSet struct {
	rt  *Runtime
	sid string

	mu      sync.Mutex
	state   taskState
	queued  []pendingTask
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

type taskState int

const (
	tasksQueued taskState = iota
	tasksRunning
	tasksDiscarding
	tasksStopped
)

func newTaskSet(rt *Runtime, sid string) *taskSet {
	return &taskSet{rt: rt, sid: sid}
}

func (t *taskSet) add(kind taskKind, fn TaskFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case tasksQueued:
		t.queued = append(t.queued, pendingTask{kind, fn})
	case tasksRunning:
		t.launchLocked(pendingTask{kind, fn})
	default:
		t.rt.logger.Debug("background task discarded", "sid", t.sid, "kind", kind.String())
	}
}

// start runs the queued tasks when the session is persistent.
func (t *taskSet) start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != tasksQueued {
		return
	}
	queued := t.queued
	t.queued = nil

	if !t.rt.Persistent() {
		t.state = tasksDiscarding
		if len(queued) > 0 {
			t.rt.logger.Debug("stateless session, background tasks discarded",
				"sid", t.sid, "count", len(queued))
		}
		return
	}

	t.state = tasksRunning
	t.ctx, t.cancel = context.WithCancel(t.rt.lifetime)
	for _, task := range queued {
		t.launchLocked(task)
	}
}

func (t *taskSet) launchLocked(task pendingTask) {
	switch task.kind {
	case workerTask:
		t.workers.Add(1)
		go func() {
			defer t.workers.Done()
			t.run(t.ctx, task)
		}()
	default:
		t.rt.jobs.Add(1)
		go func() {
			defer t.rt.jobs.Done()
			t.run(t.rt.lifetime, task)
		}()
	}
}

func (t *taskSet) run(ctx context.Context, task pendingTask) {
	defer func() {
		if r := recover(); r != nil {
			t.rt.logger.Error("background task panic",
				"sid", t.sid,
				"kind", task.kind.String(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := task.fn(ctx); err != nil && ctx.Err() == nil {
		t.rt.logger.Warn("background task failed", "sid", t.sid, "kind", task.kind.String(), "error", err)
	}
}

// stop cancels the workers and waits for them, bounded by grace.
// Jobs keep running until the session closes.
func (t *taskSet) stop(grace time.Duration) {
	t.mu.Lock()
	prev := t.state
	t.state = tasksStopped
	t.queued = nil
	cancel := t.cancel
	t.mu.Unlock()

	if prev != tasksRunning {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		t.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		t.rt.logger.Warn("workers still running after grace period", "sid", t.sid, "grace", grace)
	}
}
