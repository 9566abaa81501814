package agentloop

import (
	"context"
	"encoding/json"

	"github.com/l3ocifer/ironclaw/internal/builtintools"
	"github.com/l3ocifer/ironclaw/internal/guard"
	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/llmclient"
	"github.com/l3ocifer/ironclaw/internal/policy"
	"github.com/l3ocifer/ironclaw/internal/registry"
	"github.com/l3ocifer/ironclaw/internal/sandbox"
	"github.com/l3ocifer/ironclaw/pkg/ironmodels"
)

// shellArgField is the argument key a sandboxed or external tool call
// carries its shell command under, when it has one. Tools without a shell
// surface (pure computation, memory, task operations) simply omit it, and
// the guard is skipped for them.
const shellArgField = "command"

// Dispatcher resolves one tool call to an Invocation, enforces the command
// guard and approval policy, executes it against the right backend, and
// sanitizes the result before it re-enters the thread. It is the only piece
// of the loop that touches registry.Registry, guard.Guard, and
// sandbox.Runtime directly.
type Dispatcher struct {
	Registry    *registry.Registry
	Resolver    *policy.Resolver
	ToolPolicy  *policy.Policy
	Guard       *guard.Guard
	Sandbox     *sandbox.Runtime
	Approvals   *ApprovalChecker
	ResultGuard *ToolResultGuard
	BuiltIns    *builtintools.Executor
	External    ExternalInvoker
	// Events, when non-nil, receives a lifecycle record for every dispatch
	// step; sinks typically feed the audit trail or structured logs.
	Events func(ironmodels.ToolEvent)
}

// emit sends one lifecycle event to the configured sink, stamping the
// thread id and an optional reason.
func (d *Dispatcher) emit(kind ironmodels.ToolEventKind, threadID string, call llmclient.ToolCall, reason string) {
	if d.Events == nil {
		return
	}
	ev := ironmodels.NewToolEvent(kind, call.Name, call.ID)
	ev.ThreadID = threadID
	ev.Reason = reason
	d.Events(ev)
}

// ExternalInvoker calls a SourceExternalProtocol tool (an MCP server or
// similar) by name. The loop's wiring supplies whichever transport it was
// configured with; Dispatcher itself is transport-agnostic.
type ExternalInvoker interface {
	Invoke(ctx context.Context, toolName string, args json.RawMessage) (string, error)
}

// DispatchResult is the outcome of one tool call ready to be appended to a
// Thread as a llmclient.ToolResult.
type DispatchResult struct {
	ToolCallID string
	Content    string
	IsError    bool
	// Pending is set when the call landed in WaitingApproval instead of
	// executing; the caller must suspend the turn rather than append a
	// result yet.
	Pending          bool
	ApprovalRequestID string
}

// Dispatch resolves and executes one tool call requested by the model.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID, threadID string, call llmclient.ToolCall) (DispatchResult, error) {
	d.emit(ironmodels.ToolEventRequested, threadID, call, "")

	inv, err := d.Registry.Resolve(d.Resolver, d.ToolPolicy, call.Name, call.Input)
	if err != nil {
		d.emit(ironmodels.ToolEventDenied, threadID, call, err.Error())
		return DispatchResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}, nil
	}

	decision, reason := d.Approvals.Check(agentID, call.Name, inv.ApprovalRequired)
	switch decision {
	case ApprovalDenied:
		d.emit(ironmodels.ToolEventDenied, threadID, call, reason)
		return DispatchResult{ToolCallID: call.ID, Content: "tool call denied: " + reason, IsError: true}, nil
	case ApprovalPending:
		req, err := d.Approvals.CreateRequest(ctx, agentID, threadID, call.ID, call.Name, call.Input, reason)
		if err != nil {
			return DispatchResult{}, err
		}
		d.emit(ironmodels.ToolEventApprovalRequired, threadID, call, reason)
		return DispatchResult{ToolCallID: call.ID, Pending: true, ApprovalRequestID: req.ID}, nil
	}

	var guardNote string
	if cmd, ok := shellCommand(call.Input); ok && d.Guard != nil {
		verdict, err := d.Guard.Evaluate(ctx, cmd)
		if err != nil {
			return DispatchResult{}, err
		}
		switch {
		case verdict.Blocked:
			d.emit(ironmodels.ToolEventDenied, threadID, call, verdict.Reason)
			msg := "command blocked by guard: " + verdict.Reason
			if verdict.Suggestion != "" {
				msg += " (" + verdict.Suggestion + ")"
			}
			if verdict.AllowOnceCode != "" {
				msg += "; the user may approve this once with code " + verdict.AllowOnceCode
			}
			return DispatchResult{ToolCallID: call.ID, Content: msg, IsError: true}, nil
		case verdict.Action == guard.ActionSanitize:
			rewritten, err := replaceShellCommand(call.Input, verdict.SanitizedCommand)
			if err != nil {
				return DispatchResult{}, err
			}
			call.Input = rewritten
			guardNote = "\n[guard] command sanitized: " + verdict.Reason
		case verdict.Action == guard.ActionWarn:
			guardNote = "\n[guard] warning: " + verdict.Reason
			if verdict.Suggestion != "" {
				guardNote += " (" + verdict.Suggestion + ")"
			}
		}
	}

	d.emit(ironmodels.ToolEventStarted, threadID, call, "")
	result, execErr := d.execute(ctx, inv, call)
	if execErr != nil {
		d.emit(ironmodels.ToolEventFailed, threadID, call, execErr.Error())
		return DispatchResult{ToolCallID: call.ID, Content: execErr.Error(), IsError: true}, nil
	}
	d.emit(ironmodels.ToolEventSucceeded, threadID, call, "")

	sanitized := result
	if d.ResultGuard != nil {
		sanitized = d.ResultGuard.Sanitize(call.Name, result)
	}
	return DispatchResult{ToolCallID: call.ID, Content: sanitized + guardNote}, nil
}

// replaceShellCommand rewrites the shell command inside a tool call's raw
// argument JSON, preserving every other field.
func replaceShellCommand(args json.RawMessage, cmd string) (json.RawMessage, error) {
	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, ironerr.Wrap(ironerr.KindValidation, "dispatch.replaceShellCommand", err)
	}
	parsed[shellArgField] = cmd
	out, err := json.Marshal(parsed)
	if err != nil {
		return nil, ironerr.Wrap(ironerr.KindValidation, "dispatch.replaceShellCommand", err)
	}
	return out, nil
}

func (d *Dispatcher) execute(ctx context.Context, inv registry.Invocation, call llmclient.ToolCall) (string, error) {
	switch inv.Source {
	case registry.SourceBuiltIn:
		if d.BuiltIns == nil || !builtintools.IsBuiltinTool(call.Name) {
			return "", ironerr.New(ironerr.KindNotFound, "dispatch.execute", "no built-in executor for "+call.Name)
		}
		return d.BuiltIns.Execute(ctx, call.Name, call.Input)

	case registry.SourceExternalProtocol:
		if d.External == nil {
			return "", ironerr.New(ironerr.KindConfig, "dispatch.execute", "no external invoker configured for "+call.Name)
		}
		return d.External.Invoke(ctx, call.Name, call.Input)

	case registry.SourceSandboxed:
		if d.Sandbox == nil {
			return "", ironerr.New(ironerr.KindConfig, "dispatch.execute", "no sandbox runtime configured")
		}
		out, err := d.Sandbox.Invoke(ctx, call.Name, inv.ArtifactName, inv.Capabilities, inv.Limits, call.Input)
		if err != nil {
			return "", err
		}
		return string(out.Result), nil

	default:
		return "", ironerr.New(ironerr.KindConfig, "dispatch.execute", "unknown tool source for "+call.Name)
	}
}

// shellCommand extracts the shell command string from a tool call's
// arguments, if it carries one under shellArgField.
func shellCommand(args json.RawMessage) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", false
	}
	raw, ok := parsed[shellArgField]
	if !ok {
		return "", false
	}
	cmd, ok := raw.(string)
	return cmd, ok && cmd != ""
}

// ResolveApproval applies a human decision to a pending request, returning
// only the error from recording it. The caller (the loop's WaitingApproval
// resume path) still owns re-dispatching the call; this only records the
// decision.
func (d *Dispatcher) ResolveApproval(ctx context.Context, requestID, decidedBy string, approve bool) error {
	if approve {
		return d.Approvals.Approve(ctx, requestID, decidedBy)
	}
	return d.Approvals.Deny(ctx, requestID, decidedBy)
}
