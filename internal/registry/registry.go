// Package registry maps tool names to descriptors and resolves a single
// call into a concrete Invocation bundle: capabilities, resource limits,
// a credential-injection plan, and the policy flags the agent loop must
// honor before dispatch. A tagged ToolSource and precedence resolution
// replace a single flat namespace, so dispatch never needs a virtual
// lookup on the hot path.
package registry

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/policy"
	"github.com/l3ocifer/ironclaw/internal/sandbox"
)

// ToolSource tags where a tool's implementation lives.
type ToolSource string

const (
	SourceBuiltIn          ToolSource = "builtin"
	SourceExternalProtocol ToolSource = "external_protocol"
	SourceSandboxed        ToolSource = "sandboxed"
)

// sourcePrecedence ranks sources low-to-high; a higher rank wins when two
// sources register the same non-protected name.
var sourcePrecedence = map[ToolSource]int{
	SourceSandboxed:        0,
	SourceExternalProtocol: 1,
	SourceBuiltIn:          2,
}

// protectedNames can never be shadowed by a sandboxed tool. Registering any
// of these from SourceSandboxed is a startup error, and two sources both
// claiming a protected name is also a startup error regardless of
// precedence.
var protectedNames = map[string]bool{
	"memory_search": true,
	"memory_get":    true,
	"memory_write":  true,
	"task_create":   true,
	"task_update":   true,
	"task_list":     true,
	"task_export":   true,
	"task_archive":  true,
	"learning_add":  true,
	"learning_list": true,
}

// Descriptor is the full registration record for one tool: name,
// description, parameter schema, capability set, source, resource limits,
// and per-tool policy flags.
type Descriptor struct {
	Name            string
	Description     string
	ParameterSchema json.RawMessage // JSON Schema; nil means no validation
	Source          ToolSource
	Capabilities    sandbox.Capabilities
	Limits          sandbox.Limits
	ApprovalRequired   bool
	ProtectedFromOverride bool

	// ArtifactName identifies the compiled sandbox.Artifact backing a
	// SourceSandboxed tool. Ignored for other sources.
	ArtifactName string

	schema *jsonschema.Schema
}

// Invocation is the resolved bundle the agent loop dispatches: capabilities,
// limits, the credential names this call may reference, and whether a
// human approval gate blocks dispatch.
type Invocation struct {
	Tool             string
	Source           ToolSource
	Capabilities     sandbox.Capabilities
	Limits           sandbox.Limits
	ArtifactName     string
	ApprovalRequired bool
	ResolvedAt       time.Time
}

// Registry resolves tool names to descriptors, applying source precedence
// and protected-name rules at registration time so lookups never need to
// re-derive them.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
	byName map[string][]*Descriptor // every registration seen for a name, for diagnostics
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tools:  make(map[string]*Descriptor),
		byName: make(map[string][]*Descriptor),
	}
}

// Register admits d into the registry, resolving precedence against any
// existing registration of the same name. Returns an error if d is a
// sandboxed tool attempting to shadow a protected name, or if two sources
// both claim a protected name.
func (r *Registry) Register(d Descriptor) error {
	if d.ParameterSchema != nil {
		compiled, err := compileSchema(d.ParameterSchema)
		if err != nil {
			return ironerr.Wrap(ironerr.KindValidation, "registry.Register", err)
		}
		d.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if protectedNames[d.Name] {
		if d.Source == SourceSandboxed {
			return ironerr.New(ironerr.KindPolicyDenied, "registry.Register",
				"sandboxed tools cannot register protected name: "+d.Name)
		}
		if existing, ok := r.tools[d.Name]; ok {
			return ironerr.New(ironerr.KindConflict, "registry.Register",
				"duplicate registration of protected name: "+d.Name+" (existing source "+string(existing.Source)+")")
		}
	}

	copyD := d
	r.byName[d.Name] = append(r.byName[d.Name], &copyD)

	existing, ok := r.tools[d.Name]
	if !ok || sourcePrecedence[d.Source] > sourcePrecedence[existing.Source] {
		r.tools[d.Name] = &copyD
	}
	return nil
}

// Unregister removes every registration for name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.byName, name)
}

// Get returns the winning descriptor for name, if any.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Names returns every registered tool name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve applies resolver/toolPolicy to name, validates args against the
// tool's parameter schema, and produces the Invocation bundle the agent
// loop will dispatch. Returns a policy-denied error if the tool isn't
// reachable under toolPolicy.
func (r *Registry) Resolve(resolver *policy.Resolver, toolPolicy *policy.Policy, name string, args json.RawMessage) (Invocation, error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Invocation{}, ironerr.New(ironerr.KindNotFound, "registry.Resolve", "no such tool: "+name)
	}

	if resolver != nil && toolPolicy != nil {
		decision := resolver.Decide(toolPolicy, name)
		if !decision.Allowed {
			return Invocation{}, ironerr.New(ironerr.KindPolicyDenied, "registry.Resolve", decision.Reason)
		}
	}

	if d.schema != nil {
		var v interface{}
		if err := json.Unmarshal(args, &v); err != nil {
			return Invocation{}, ironerr.Wrap(ironerr.KindValidation, "registry.Resolve", err)
		}
		if err := d.schema.Validate(v); err != nil {
			return Invocation{}, ironerr.Wrap(ironerr.KindValidation, "registry.Resolve", err)
		}
	}

	return Invocation{
		Tool:             d.Name,
		Source:           d.Source,
		Capabilities:     d.Capabilities,
		Limits:           d.Limits,
		ArtifactName:     d.ArtifactName,
		ApprovalRequired: d.ApprovalRequired,
		ResolvedAt:       time.Now(),
	}, nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	const resourceURL = "tool-params.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceURL)
}
