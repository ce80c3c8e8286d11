// Package timeline is the single authoritative step loop. Background read
// phases may run in parallel; every mutation happens in a write phase or an
// event, one at a time, in a fixed order.
package timeline

import (
	"container/heap"
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is a speculative computation split in two. Read must only look at
// state; Write applies the result on the timeline and must re-validate it.
type Task interface {
	Read(ctx context.Context)
	Write()
}

type TaskHandle struct {
	task      Task
	cancelled bool
	done      bool
}

// Cancel turns any phase that has not run yet into a no-op.
func (h *TaskHandle) Cancel() {
	if h != nil {
		h.cancelled = true
	}
}

func (h *TaskHandle) Active() bool { return h != nil && !h.cancelled && !h.done }

type Event struct {
	seq       uint64
	start     uint64
	duration  uint64
	fn        func()
	cancelled bool
	fired     bool
	index     int
}

func (e *Event) Start() uint64    { return e.start }
func (e *Event) Duration() uint64 { return e.duration }
func (e *Event) Due() uint64      { return e.start + e.duration }

func (e *Event) Active() bool { return e != nil && !e.cancelled && !e.fired }

func (e *Event) Cancel() {
	if e != nil {
		e.cancelled = true
	}
}

func (e *Event) Elapsed(now uint64) uint64 {
	if now <= e.start {
		return 0
	}
	if now-e.start > e.duration {
		return e.duration
	}
	return now - e.start
}

func (e *Event) Remaining(now uint64) uint64 { return e.duration - e.Elapsed(now) }

func (e *Event) PercentComplete(now uint64) int {
	if e.duration == 0 {
		return 100
	}
	return int(e.Elapsed(now) * 100 / e.duration)
}

type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].Due() != q[j].Due() {
		return q[i].Due() < q[j].Due()
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *eventQueue) Push(x any) {
	e := x.(*Event)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

type Timeline struct {
	now         uint64
	seq         uint64
	events      eventQueue
	tasks       []*TaskHandle
	readWorkers int
	settle      func()
}

func New(readWorkers int) *Timeline {
	if readWorkers <= 0 {
		readWorkers = 1
	}
	return &Timeline{readWorkers: readWorkers}
}

// SetSettle registers fn to run after every write phase and every event.
func (t *Timeline) SetSettle(fn func()) { t.settle = fn }

func (t *Timeline) Now() uint64 { return t.now }

// SetNow is for restoring a snapshot before anything is scheduled.
func (t *Timeline) SetNow(now uint64) { t.now = now }

// Schedule runs fn delay steps from now. A zero delay means the next step.
func (t *Timeline) Schedule(delay uint64, fn func()) *Event {
	if delay == 0 {
		delay = 1
	}
	t.seq++
	e := &Event{seq: t.seq, start: t.now, duration: delay, fn: fn}
	heap.Push(&t.events, e)
	return e
}

// Submit queues task for the next step.
func (t *Timeline) Submit(task Task) *TaskHandle {
	h := &TaskHandle{task: task}
	t.tasks = append(t.tasks, h)
	return h
}

func (t *Timeline) Pending() (events, tasks int) {
	for _, e := range t.events {
		if e.Active() {
			events++
		}
	}
	for _, h := range t.tasks {
		if h.Active() {
			tasks++
		}
	}
	return events, tasks
}

// Step advances one step: read phases, write phases in submission order,
// then every event due at the new step.
func (t *Timeline) Step(ctx context.Context) error {
	batch := t.tasks
	t.tasks = nil

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.readWorkers)
	for _, h := range batch {
		if h.cancelled {
			continue
		}
		h := h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h.task.Read(gctx)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		// A read cut short by cancellation returns normally; its result
		// is partial and must not be written.
		err = ctx.Err()
	}
	if err != nil {
		t.tasks = append(batch, t.tasks...)
		return err
	}

	t.now++
	for _, h := range batch {
		if h.cancelled {
			continue
		}
		h.done = true
		h.task.Write()
		t.runSettle()
	}

	for len(t.events) > 0 && t.events[0].Due() <= t.now {
		e := heap.Pop(&t.events).(*Event)
		if e.cancelled {
			continue
		}
		e.fired = true
		e.fn()
		t.runSettle()
	}
	return nil
}

func (t *Timeline) runSettle() {
	if t.settle != nil {
		t.settle()
	}
}

// Guard invalidates outstanding work when its owner resets or goes away.
type Guard struct {
	gen uint64
}

func (g *Guard) Token() uint64 { return g.gen }

func (g *Guard) Bump() { g.gen++ }

func (g *Guard) Live(token uint64) bool { return g.gen == token }
