// Package heartbeat runs the periodic background self-check: an integrity
// scan, tool artifact checksum verification, stale-credential checks, and
// one low-priority model turn whose reply is either the literal
// HEARTBEAT_OK (nothing to say) or a notification worth routing to the
// user.
package heartbeat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/l3ocifer/ironclaw/internal/integrity"
	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/turnqueue"
)

// OKToken is the literal reply a heartbeat turn returns when nothing needs
// surfacing, matching the convention seeded into HEARTBEAT.md.
const OKToken = "HEARTBEAT_OK"

// TurnFunc runs one heartbeat turn and returns its reply text (either
// OKToken or a notification payload) alongside any failure.
type TurnFunc func(ctx context.Context) (string, error)

// NotifyFunc delivers a non-OK heartbeat reply to the user's preferred
// channel. It is never called for OKToken replies.
type NotifyFunc func(ctx context.Context, reply string)

// VerifyArtifactsFunc re-checks tool artifact checksums against their
// admitted baselines, returning the names that no longer match (see
// sandbox.Runtime.VerifyArtifacts).
type VerifyArtifactsFunc func() []string

// StaleTokensFunc reports credentials or grants past their useful life —
// expired approvals, keys due for rotation — by name, never by value.
type StaleTokensFunc func(ctx context.Context) []string

// PeriodicConfig configures one user's periodic background heartbeat.
type PeriodicConfig struct {
	UserID   string
	Interval time.Duration // default 30 minutes

	Monitor         *integrity.Monitor  // nil skips the integrity check for this heartbeat
	VerifyArtifacts VerifyArtifactsFunc // nil skips the tool checksum pass
	StaleTokens     StaleTokensFunc     // nil skips the stale-token pass
	Turn            TurnFunc            // required: runs the heartbeat LLM turn
	Notify          NotifyFunc          // optional: called with any non-OK reply
}

// Periodic drives one user's background heartbeat job on a fixed interval,
// submitting each tick to a turnqueue.Scheduler at PriorityLow so it always
// yields to user-submitted turns. A tick is dropped rather than queued if
// the previous heartbeat for this user hasn't finished yet — heartbeats are
// lowest priority and must never accumulate backlog.
type Periodic struct {
	cfg   PeriodicConfig
	sched *turnqueue.Scheduler

	mu      sync.Mutex
	pending bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPeriodic constructs a Periodic heartbeat bound to sched. cfg.Interval
// defaults to 30 minutes if unset.
func NewPeriodic(sched *turnqueue.Scheduler, cfg PeriodicConfig) *Periodic {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	return &Periodic{cfg: cfg, sched: sched}
}

// Start begins ticking until ctx is cancelled or Stop is called.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts ticking and waits for the run loop to exit. It does not cancel
// a heartbeat turn already submitted to the scheduler.
func (p *Periodic) Stop() {
	p.mu.Lock()
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (p *Periodic) run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Periodic) tick(ctx context.Context) {
	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		return // dropped: the previous heartbeat is still in flight
	}
	p.pending = true
	p.mu.Unlock()

	jobID := "heartbeat-" + p.cfg.UserID + "-" + uuid.New().String()
	err := p.sched.Submit(turnqueue.Job{
		ID:       jobID,
		UserID:   p.cfg.UserID,
		Priority: turnqueue.PriorityLow,
		Run: func(ctx context.Context) error {
			if p.cfg.Monitor != nil {
				if _, err := p.cfg.Monitor.Scan(ctx); err != nil {
					return ironerr.Wrap(ironerr.KindIntegrity, "heartbeat.tick", err)
				}
			}

			// Findings from the deterministic passes are surfaced even when
			// the LLM turn itself replies HEARTBEAT_OK: a tampered artifact
			// or a stale key needs attention regardless of what the model
			// noticed.
			var findings []string
			if p.cfg.VerifyArtifacts != nil {
				for _, name := range p.cfg.VerifyArtifacts() {
					findings = append(findings, "tool artifact checksum mismatch: "+name)
				}
			}
			if p.cfg.StaleTokens != nil {
				for _, name := range p.cfg.StaleTokens(ctx) {
					findings = append(findings, "stale credential: "+name)
				}
			}

			reply, err := p.cfg.Turn(ctx)
			if err != nil {
				return err
			}
			if strings.TrimSpace(reply) == OKToken {
				reply = ""
			}
			if len(findings) > 0 {
				reply = strings.TrimSpace(reply + "\n" + strings.Join(findings, "\n"))
			}
			if reply != "" && p.cfg.Notify != nil {
				p.cfg.Notify(ctx, reply)
			}
			return nil
		},
		OnDone: func(error) {
			p.mu.Lock()
			p.pending = false
			p.mu.Unlock()
		},
	})
	if err != nil {
		// Submission itself failed (e.g. scheduler already stopped); this
		// tick is dropped, like any tick that finds the scheduler saturated.
		p.mu.Lock()
		p.pending = false
		p.mu.Unlock()
	}
}
