package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/l3ocifer/ironclaw/internal/policy"
)

// ApprovalDecision is the outcome of checking a tool call against an
// ApprovalPolicy: allowed immediately, denied immediately, or pending a
// channel-level confirmation before the WaitingApproval state can resolve.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalRequest is a pending confirmation the loop surfaced to the user's
// channel while parked in WaitingApproval.
type ApprovalRequest struct {
	ID         string
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	AgentID    string
	ThreadID   string
	Reason     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Decision   ApprovalDecision
	DecidedAt  time.Time
	DecidedBy  string
}

// ApprovalPolicy configures how ApprovalChecker.Check resolves a tool call,
// in priority order: denylist, allowlist, skill tools, safe bins, the
// require-approval list, then the default decision.
type ApprovalPolicy struct {
	Allowlist       []string
	Denylist        []string
	RequireApproval []string
	SafeBins        []string
	SkillAllowlist  bool
	AskFallback     bool
	DefaultDecision ApprovalDecision
	RequestTTL      time.Duration
}

// DefaultApprovalPolicy allows a conservative set of read-only binaries and
// asks for everything else rather than denying outright.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		SafeBins:        []string{"cat", "head", "tail", "wc", "sort", "uniq", "grep"},
		SkillAllowlist:  true,
		AskFallback:     true,
		DefaultDecision: ApprovalPending,
		RequestTTL:      5 * time.Minute,
	}
}

// ApprovalStore persists pending ApprovalRequests across a WaitingApproval
// suspension so a job restart or a separate confirmation channel can resolve
// one created by another goroutine.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	ListPending(ctx context.Context, agentID string) ([]*ApprovalRequest, error)
}

// ApprovalChecker evaluates tool calls against per-agent ApprovalPolicies,
// generalizing the registry's per-tool ApprovalRequired flag (which always
// forces Pending regardless of policy) with pattern-based allow/deny rules.
type ApprovalChecker struct {
	mu            sync.RWMutex
	agentPolicies map[string]*ApprovalPolicy
	defaultPolicy *ApprovalPolicy
	skillTools    map[string]struct{}
	store         ApprovalStore
	uiAvailable   func() bool
}

// NewApprovalChecker constructs a checker with defaultPolicy, or
// DefaultApprovalPolicy if nil.
func NewApprovalChecker(defaultPolicy *ApprovalPolicy) *ApprovalChecker {
	if defaultPolicy == nil {
		defaultPolicy = DefaultApprovalPolicy()
	}
	return &ApprovalChecker{
		agentPolicies: make(map[string]*ApprovalPolicy),
		defaultPolicy: defaultPolicy,
		skillTools:    make(map[string]struct{}),
	}
}

func (c *ApprovalChecker) SetStore(store ApprovalStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// SetUIAvailableCheck lets the loop report whether a human is reachable to
// confirm a Pending decision right now (a channel connection, a CLI tty); if
// not, AskFallback decides whether Pending degrades to Denied.
func (c *ApprovalChecker) SetUIAvailableCheck(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uiAvailable = fn
}

func (c *ApprovalChecker) SetAgentPolicy(agentID string, p *ApprovalPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentPolicies[agentID] = p
}

// RegisterSkillTools marks tools as skill-provided so SkillAllowlist can
// auto-allow them.
func (c *ApprovalChecker) RegisterSkillTools(tools []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tools {
		c.skillTools[t] = struct{}{}
	}
}

func (c *ApprovalChecker) PolicyFor(agentID string) *ApprovalPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.agentPolicies[agentID]; ok {
		return p
	}
	return c.defaultPolicy
}

func (c *ApprovalChecker) IsUIAvailable() bool {
	c.mu.RLock()
	fn := c.uiAvailable
	c.mu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Check resolves toolName against agentID's policy. A registry-level
// ApprovalRequired flag (forceApproval) always produces at least Pending,
// since it is a property of the tool's capability footprint the policy
// cannot override downward to Allowed, but a Denylist entry still wins.
func (c *ApprovalChecker) Check(agentID, toolName string, forceApproval bool) (ApprovalDecision, string) {
	p := c.PolicyFor(agentID)
	c.mu.RLock()
	skillTools := c.skillTools
	c.mu.RUnlock()

	if matchesPattern(p.Denylist, toolName) {
		return ApprovalDenied, "tool in denylist"
	}
	if !forceApproval {
		if matchesPattern(p.Allowlist, toolName) {
			return ApprovalAllowed, "tool in allowlist"
		}
		if p.SkillAllowlist {
			if _, ok := skillTools[toolName]; ok {
				return ApprovalAllowed, "tool provided by skill"
			}
		}
		if matchesPattern(p.SafeBins, toolName) {
			return ApprovalAllowed, "tool is safe bin"
		}
	}

	needsApproval := forceApproval || matchesPattern(p.RequireApproval, toolName)
	if needsApproval {
		if !p.AskFallback && !c.IsUIAvailable() {
			return ApprovalDenied, "approval unavailable"
		}
		return ApprovalPending, "tool requires approval"
	}

	if p.DefaultDecision == ApprovalPending && !p.AskFallback && !c.IsUIAvailable() {
		return ApprovalDenied, "approval unavailable"
	}
	if p.DefaultDecision == "" {
		return ApprovalPending, "default policy"
	}
	return p.DefaultDecision, "default policy"
}

// CreateRequest persists a pending approval request for toolCallID, if a
// store is configured.
func (c *ApprovalChecker) CreateRequest(ctx context.Context, agentID, threadID, toolCallID, toolName string, input json.RawMessage, reason string) (*ApprovalRequest, error) {
	p := c.PolicyFor(agentID)
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()

	ttl := p.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	req := &ApprovalRequest{
		ID:         toolCallID + "-approval",
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      input,
		AgentID:    agentID,
		ThreadID:   threadID,
		Reason:     reason,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Decision:   ApprovalPending,
	}
	if store != nil {
		if err := store.Create(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *ApprovalChecker) Approve(ctx context.Context, requestID, decidedBy string) error {
	return c.decide(ctx, requestID, decidedBy, ApprovalAllowed)
}

func (c *ApprovalChecker) Deny(ctx context.Context, requestID, decidedBy string) error {
	return c.decide(ctx, requestID, decidedBy, ApprovalDenied)
}

func (c *ApprovalChecker) decide(ctx context.Context, requestID, decidedBy string, decision ApprovalDecision) error {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return nil
	}
	req, err := store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	req.Decision = decision
	req.DecidedAt = time.Now()
	req.DecidedBy = decidedBy
	return store.Update(ctx, req)
}

// matchesPattern supports exact names, "*", "ext:*", "prefix*", and
// "*suffix" against policy.NormalizeTool(toolName).
func matchesPattern(patterns []string, toolName string) bool {
	normalizedTool := policy.NormalizeTool(toolName)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		normalizedPattern := policy.NormalizeTool(pattern)
		if normalizedPattern == "*" {
			return true
		}
		if normalizedPattern == normalizedTool {
			return true
		}
		if normalizedPattern == "ext:*" && policy.IsExternalTool(normalizedTool) {
			return true
		}
		if n := len(normalizedPattern); n > 1 && normalizedPattern[n-1] == '*' {
			if strings.HasPrefix(normalizedTool, normalizedPattern[:n-1]) {
				return true
			}
		}
		if n := len(normalizedPattern); n > 1 && normalizedPattern[0] == '*' {
			if strings.HasSuffix(normalizedTool, normalizedPattern[1:]) {
				return true
			}
		}
	}
	return false
}

// MemoryApprovalStore is a non-persistent ApprovalStore suitable for tests
// and single-process deployments without a durable approval channel.
type MemoryApprovalStore struct {
	mu       sync.Mutex
	requests map[string]*ApprovalRequest
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*ApprovalRequest)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errApprovalNotFound(id)
	}
	return req, nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context, agentID string) ([]*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ApprovalRequest
	for _, req := range s.requests {
		if req.AgentID == agentID && req.Decision == ApprovalPending {
			out = append(out, req)
		}
	}
	return out, nil
}

type approvalNotFoundError string

func (e approvalNotFoundError) Error() string { return "approval request not found: " + string(e) }

func errApprovalNotFound(id string) error { return approvalNotFoundError(id) }
