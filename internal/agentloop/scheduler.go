package agentloop

import (
	"context"
	"time"

	"github.com/l3ocifer/ironclaw/internal/turnqueue"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

// RunResult carries the outcome of one scheduled turn chain back to the
// caller that submitted it.
type RunResult struct {
	Thread *Thread
	Err    error
}

// Submit runs one turn of thread as a turnqueue.Job, keyed so the
// scheduler's hard "one job per user" rule applies across every thread the
// user owns: exclusivity is about the user, not the thread. jobID must be unique per submission (e.g. a message id); userID
// identifies the owning user for the scheduler's exclusivity and capacity
// accounting; priority lets a resumed approval or a heartbeat turn jump
// ahead of or behind ordinary submissions. The result channel receives
// exactly one RunResult once the turn chain finishes, is cancelled, or the
// scheduler is stopped.
func (l *Loop) Submit(sched *turnqueue.Scheduler, jobID, userID string, priority turnqueue.Priority, ws *workspace.WorkspaceContext, thread *Thread, inbound Message, now time.Time) (<-chan RunResult, error) {
	resultCh := make(chan RunResult, 1)
	var updated *Thread
	err := sched.Submit(turnqueue.Job{
		ID:       jobID,
		UserID:   userID,
		Priority: priority,
		Run: func(ctx context.Context) error {
			var runErr error
			updated, runErr = l.Run(ctx, ws, thread, inbound, now)
			return runErr
		},
		OnDone: func(err error) {
			if updated == nil {
				updated = thread
			}
			resultCh <- RunResult{Thread: updated, Err: err}
		},
	})
	if err != nil {
		return nil, err
	}
	return resultCh, nil
}
