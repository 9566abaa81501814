// Package turnqueue schedules agent turns: a Scheduler owns a pool of
// worker slots and a priority queue of Jobs, where each Job is exactly one
// agent turn chain (an agentloop.Loop.Run call). At most one Job per user
// may run at a time, and the whole pool is bounded by a global capacity,
// regardless of how many users have work queued.
package turnqueue

import (
	"context"
	"sync"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Priority orders queued Jobs when more are ready than the scheduler has
// capacity to run. Heartbeats are always Low; user-submitted turns are
// Normal; approvals resuming an already-suspended turn are High so a
// waiting user isn't stuck behind new arrivals.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Job is exactly one agent turn chain: the sequence of LLM calls and tool
// dispatches for a single user submission. Run
// receives a context that is cancelled if the scheduler is stopped or the
// Job is explicitly cancelled; it must check ctx at every suspension point.
type Job struct {
	ID       string
	UserID   string
	Priority Priority
	Run      func(ctx context.Context) error

	// OnDone, if set, is called exactly once after Run returns (or the Job
	// is cancelled before it ever ran), off the dispatch goroutine.
	OnDone func(err error)
}

// queuedJob augments a Job with the scheduler bookkeeping needed to order
// and cancel it before it runs.
type queuedJob struct {
	job       Job
	seq       int64
	submitted time.Time
}

// higherPriority reports whether a should be dispatched before b: strictly
// higher Priority wins; ties break on earlier submission sequence. The
// queue is kept as a plain slice rather than a container/heap, since a
// heap's backing array is only partially ordered — picking the first
// *runnable* entry (skipping users already busy) needs a full priority
// scan regardless, and queue depth here is small (one entry per
// in-flight or waiting user turn).
func higherPriority(a, b *queuedJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.seq < b.seq
}

// Scheduler dispatches queued Jobs onto a bounded pool of worker slots,
// enforcing the §5 hard rule (one Job per user running at a time) and a
// global concurrency cap. Every suspension point lives inside Job.Run, not
// in the Scheduler: the Scheduler only decides what starts next.
type Scheduler struct {
	mu         sync.Mutex
	globalCap  int
	running    int
	busyUsers  map[string]struct{}
	queue      []*queuedJob
	byID       map[string]*queuedJob
	cancels    map[string]context.CancelFunc
	nextSeq    int64
	wake       chan struct{}
	ctx        context.Context
	cancelAll  context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
}

// New constructs a Scheduler with the given global capacity (the maximum
// number of Jobs running across all users at once). A non-positive
// globalCap defaults to 1.
func New(globalCap int) *Scheduler {
	if globalCap <= 0 {
		globalCap = 1
	}
	return &Scheduler{
		globalCap: globalCap,
		busyUsers: make(map[string]struct{}),
		byID:      make(map[string]*queuedJob),
		cancels:   make(map[string]context.CancelFunc),
		wake:      make(chan struct{}, 1),
	}
}

// Start begins the dispatch loop. It is idempotent; calling Start twice is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancelAll = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop()
}

// Stop cancels every running and queued Job and waits for running Jobs'
// Run functions to observe cancellation and return. Jobs are responsible
// for reacting to ctx.Done() promptly at their next suspension point:
// best-effort abandonment of the in-flight LLM request, termination of a
// sandboxed tool at its next fuel check.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancelAll()
	pending := s.queue
	s.queue = nil
	for _, qj := range pending {
		delete(s.byID, qj.job.ID)
	}
	s.mu.Unlock()
	for _, qj := range pending {
		if qj.job.OnDone != nil {
			qj.job.OnDone(context.Canceled)
		}
	}
	s.wg.Wait()
}

// Submit enqueues job. It returns ironerr.KindConflict if a Job with the
// same ID is already queued or running.
func (s *Scheduler) Submit(job Job) error {
	if job.Run == nil {
		return ironerr.New(ironerr.KindValidation, "turnqueue.Submit", "job.Run must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ironerr.New(ironerr.KindConflict, "turnqueue.Submit", "scheduler is stopped")
	}
	if _, exists := s.byID[job.ID]; exists {
		return ironerr.New(ironerr.KindConflict, "turnqueue.Submit", "job "+job.ID+" already queued")
	}
	if _, running := s.cancels[job.ID]; running {
		return ironerr.New(ironerr.KindConflict, "turnqueue.Submit", "job "+job.ID+" already running")
	}
	qj := &queuedJob{job: job, seq: s.nextSeq, submitted: time.Now()}
	s.nextSeq++
	s.queue = append(s.queue, qj)
	s.byID[job.ID] = qj
	s.signal()
	return nil
}

// Cancel stops job id: if it hasn't started yet, it is removed from the
// queue without ever running (Run is never called, OnDone is invoked with
// context.Canceled); if it is running, its context is cancelled so Run can
// unwind at its next suspension point. Returns false if no such job is
// known.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		s.mu.Unlock()
		cancel()
		return true
	}
	qj, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.removeFromQueue(id)
	delete(s.byID, id)
	s.mu.Unlock()
	if qj.job.OnDone != nil {
		qj.job.OnDone(context.Canceled)
	}
	return true
}

// Len reports the number of Jobs currently queued (not yet running).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running reports the number of Jobs currently executing.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) removeFromQueue(id string) {
	for i, qj := range s.queue {
		if qj.job.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// dispatchLoop is the Scheduler's single goroutine: it wakes whenever a Job
// is submitted, finishes, or is cancelled, and starts as many
// runnable (capacity free, user not already busy) queued Jobs as it can.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for {
			started := s.startRunnableLocked()
			if !started {
				break
			}
		}
		done := s.ctx.Done()
		s.mu.Unlock()

		select {
		case <-done:
			return
		case <-s.wake:
		}
	}
}

// startRunnableLocked starts the highest-priority runnable Job (one whose
// user isn't already running another Job) and reports whether it started
// one. Caller holds s.mu.
func (s *Scheduler) startRunnableLocked() bool {
	if s.running >= s.globalCap {
		return false
	}
	best := -1
	for i, qj := range s.queue {
		if _, busy := s.busyUsers[qj.job.UserID]; busy {
			continue
		}
		if best == -1 || higherPriority(qj, s.queue[best]) {
			best = i
		}
	}
	if best >= 0 {
		qj := s.queue[best]
		s.queue = append(s.queue[:best], s.queue[best+1:]...)
		delete(s.byID, qj.job.ID)
		s.busyUsers[qj.job.UserID] = struct{}{}
		s.running++

		jobCtx, cancel := context.WithCancel(s.ctx)
		s.cancels[qj.job.ID] = cancel

		s.wg.Add(1)
		go s.run(qj.job, jobCtx, cancel)
		return true
	}
	return false
}

func (s *Scheduler) run(job Job, ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	err := job.Run(ctx)
	cancel()

	s.mu.Lock()
	delete(s.cancels, job.ID)
	delete(s.busyUsers, job.UserID)
	s.running--
	s.signal()
	s.mu.Unlock()

	if job.OnDone != nil {
		job.OnDone(err)
	}
}
