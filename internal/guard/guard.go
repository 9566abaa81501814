// Package guard screens shell commands a tool is about to execute for
// destructive patterns (recursive deletes, disk overwrites, history
// rewriting, fork bombs) before they reach the sandbox or host shell.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Severity decides what a matching rule does to the command.
type Severity string

const (
	// SeverityBlock refuses the command outright.
	SeverityBlock Severity = "block"
	// SeverityWarn lets the command through but attaches the rule's reason
	// so the caller can surface it.
	SeverityWarn Severity = "warn"
	// SeverityReview refuses the command unless its one-time code has been
	// granted via Grant; the verdict carries the code to present to the user.
	SeverityReview Severity = "review"
	// SeveritySanitize rewrites the command, stripping the matched portion,
	// and allows the rewritten form.
	SeveritySanitize Severity = "sanitize"
)

// Pattern is a single destructive-command signature within a Pack.
type Pattern struct {
	ID          string
	Description string
	Regex       *regexp.Regexp
	// QuickReject is a substring that must be present for Regex to be worth
	// evaluating at all; it lets Evaluate skip the expensive regex pass for
	// the common case of a benign command.
	QuickReject string
	// Severity defaults to SeverityBlock when empty.
	Severity Severity
	// Suggestion is a safer alternative shown alongside the verdict.
	Suggestion string
	// SafePatterns are exceptions: if any of them also matches the command,
	// this rule does not apply and evaluation moves on.
	SafePatterns []*regexp.Regexp
	// SanitizeWith replaces the matched portion for SeveritySanitize rules.
	SanitizeWith string
}

func (p Pattern) severity() Severity {
	if p.Severity == "" {
		return SeverityBlock
	}
	return p.Severity
}

// Pack is a named, ordered collection of destructive-command patterns.
// Keywords is the pack-level quick-reject set: when non-empty, a command
// containing none of them skips the pack entirely in one substring pass.
type Pack struct {
	Name     string
	Keywords []string
	Patterns []Pattern
}

// Action is the verdict category a caller switches on.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionBlock     Action = "block"
	ActionWarn      Action = "warn"
	ActionAllowOnce Action = "allow_once"
	ActionSanitize  Action = "sanitize"
)

// Verdict is the outcome of evaluating a command against the loaded packs.
// Blocked stays true only for ActionBlock and an ungranted ActionAllowOnce
// (and for a fail-closed deadline), so existing callers that only check
// Blocked keep the conservative behavior.
type Verdict struct {
	Blocked    bool
	Action     Action
	PackName   string
	PatternID  string
	Reason     string
	Suggestion string
	// AllowOnceCode is the short code a user can approve to let exactly this
	// command through once (ActionAllowOnce only).
	AllowOnceCode string
	// SanitizedCommand is the rewritten command for ActionSanitize verdicts.
	SanitizedCommand string
}

// Guard evaluates shell commands against a set of loaded packs.
type Guard struct {
	packs      []Pack
	failClosed bool
	timeout    time.Duration

	mu      sync.Mutex
	granted map[string]bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithFailClosed controls whether an evaluation that exceeds its deadline is
// treated as blocked (true) or allowed with audit (false, the default). A
// slow guard must not stop the user's legitimate work; operators serving a
// high-trust context may opt into fail-closed instead.
func WithFailClosed(failClosed bool) Option {
	return func(g *Guard) { g.failClosed = failClosed }
}

// WithTimeout bounds how long a single Evaluate call may run before the
// fail-open/fail-closed deadline semantics apply.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) { g.timeout = d }
}

// New constructs a Guard loaded with the given packs.
func New(packs []Pack, opts ...Option) *Guard {
	g := &Guard{
		packs:      packs,
		failClosed: false,
		timeout:    25 * time.Millisecond,
		granted:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grant registers a one-time approval for the code an earlier ActionAllowOnce
// verdict carried. The next Evaluate of the same command consumes it.
func (g *Guard) Grant(code string) {
	g.mu.Lock()
	g.granted[code] = true
	g.mu.Unlock()
}

func (g *Guard) redeem(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.granted[code] {
		delete(g.granted, code)
		return true
	}
	return false
}

// AllowOnceCode derives the short code for a specific rule firing on a
// specific command. Deterministic, so the code shown to the user matches the
// one Evaluate recomputes when the command is retried.
func AllowOnceCode(patternID, cmd string) string {
	sum := sha256.Sum256([]byte(patternID + "\x00" + cmd))
	return hex.EncodeToString(sum[:])[:8]
}

// Evaluate screens cmd against every loaded pack in order, returning the
// first deciding match. It respects ctx cancellation and the guard's own
// timeout, applying fail-open/fail-closed semantics if the deadline passes
// before evaluation completes.
func (g *Guard) Evaluate(ctx context.Context, cmd string) (Verdict, error) {
	done := make(chan Verdict, 1)
	go func() {
		done <- g.evaluateSync(cmd)
	}()

	deadline := time.NewTimer(g.timeout)
	defer deadline.Stop()

	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		return Verdict{}, ironerr.Wrap(ironerr.KindGuardTimeout, "guard.Evaluate", ctx.Err())
	case <-deadline.C:
		if g.failClosed {
			return Verdict{Blocked: true, Action: ActionBlock, Reason: "guard evaluation deadline exceeded (fail-closed)"}, nil
		}
		return Verdict{Blocked: false, Action: ActionAllow, Reason: "guard evaluation deadline exceeded (fail-open)"}, nil
	}
}

// evaluateSync walks cmd and every nested segment a shell would run on its
// behalf (pipeline stages, &&/||/; chains, backtick and $(...) substitution,
// heredoc bodies, and interpreter -c/-e eval bodies), returning the first
// deciding match found in any of them.
func (g *Guard) evaluateSync(cmd string) Verdict {
	for _, segment := range segments(cmd) {
		if v := g.scanSegment(segment, segment == cmd); v.Action != ActionAllow {
			return v
		}
	}
	return Verdict{Blocked: false, Action: ActionAllow}
}

func (g *Guard) scanSegment(cmd string, wholeCommand bool) Verdict {
	for _, pack := range g.packs {
		if !packKeywordHit(pack, cmd) {
			continue
		}
		for _, pattern := range pack.Patterns {
			if pattern.QuickReject != "" && !strings.Contains(cmd, pattern.QuickReject) {
				continue
			}
			if !pattern.Regex.MatchString(cmd) {
				continue
			}
			if matchesAnySafe(pattern.SafePatterns, cmd) {
				continue
			}
			return g.decide(pack, pattern, cmd, wholeCommand)
		}
	}
	return Verdict{Blocked: false, Action: ActionAllow}
}

// decide turns the first matching rule into a verdict according to its
// severity. The first match is final for this segment: later rules are not
// consulted. A sanitize rule firing inside a sub-segment (a pipe stage, a
// substitution body) downgrades to a warning — rewriting anything but the
// whole command would hand the caller a fragment.
func (g *Guard) decide(pack Pack, pattern Pattern, cmd string, wholeCommand bool) Verdict {
	v := Verdict{
		PackName:   pack.Name,
		PatternID:  pattern.ID,
		Reason:     pattern.Description,
		Suggestion: pattern.Suggestion,
	}
	switch pattern.severity() {
	case SeverityWarn:
		v.Action = ActionWarn
	case SeverityReview:
		code := AllowOnceCode(pattern.ID, cmd)
		if g.redeem(code) {
			v.Action = ActionAllow
			return v
		}
		v.Action = ActionAllowOnce
		v.AllowOnceCode = code
		v.Blocked = true
	case SeveritySanitize:
		if !wholeCommand {
			v.Action = ActionWarn
			break
		}
		v.Action = ActionSanitize
		v.SanitizedCommand = strings.TrimSpace(pattern.Regex.ReplaceAllString(cmd, pattern.SanitizeWith))
	default:
		v.Action = ActionBlock
		v.Blocked = true
	}
	return v
}

func packKeywordHit(pack Pack, cmd string) bool {
	if len(pack.Keywords) == 0 {
		return true
	}
	for _, kw := range pack.Keywords {
		if strings.Contains(cmd, kw) {
			return true
		}
	}
	return false
}

func matchesAnySafe(safe []*regexp.Regexp, cmd string) bool {
	for _, re := range safe {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}
