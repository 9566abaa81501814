package policy

import (
	"strings"
	"sync"
)

// Resolver expands groups, aliases, and external-server wildcards so a
// Policy over names like "group:tasks" or "ext:github.*" can be decided
// against a concrete tool name.
type Resolver struct {
	mu         sync.RWMutex
	groups     map[string][]string
	extServers map[string][]string // server id -> bare tool names
	aliases    map[string]string
}

// Decision is the outcome of one policy check, with the rule that decided
// it for audit output.
type Decision struct {
	Allowed bool
	Tool    string
	Reason  string
}

// NewResolver returns a Resolver seeded with DefaultGroups.
func NewResolver() *Resolver {
	groups := make(map[string][]string, len(DefaultGroups))
	for name, tools := range DefaultGroups {
		groups[name] = append([]string(nil), tools...)
	}
	return &Resolver{
		groups:     groups,
		extServers: make(map[string][]string),
		aliases:    make(map[string]string),
	}
}

// AddGroup registers a custom group referencable as its name in policies.
func (r *Resolver) AddGroup(name string, tools []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = append([]string(nil), tools...)
}

// RegisterExternalServer records the tools an external protocol server
// exposes. They become addressable as "ext:<id>.<tool>", the wildcard
// "ext:<id>.*" expands to all of them, and a convenience group "ext:<id>"
// is created.
func (r *Resolver) RegisterExternalServer(serverID string, tools []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extServers[serverID] = append([]string(nil), tools...)
	qualified := make([]string, 0, len(tools))
	for _, tool := range tools {
		qualified = append(qualified, extPrefix+serverID+"."+tool)
	}
	r.groups[extPrefix+serverID] = qualified
}

// UnregisterExternalServer drops a server's tools and group.
func (r *Resolver) UnregisterExternalServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.extServers, serverID)
	delete(r.groups, extPrefix+serverID)
}

// RegisterAlias maps an alternative name onto a canonical one, on top of
// the package-level ToolAliases.
func (r *Resolver) RegisterAlias(alias, canonical string) {
	alias = NormalizeTool(alias)
	canonical = NormalizeTool(canonical)
	if alias == "" || canonical == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = canonical
}

// CanonicalName resolves name through the package aliases and any
// registered ones.
func (r *Resolver) CanonicalName(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.canonicalLocked(name)
}

func (r *Resolver) canonicalLocked(name string) string {
	normalized := NormalizeTool(name)
	if canonical, ok := r.aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// ExpandGroups replaces group references and "ext:<id>.*" wildcards in
// items with their member tools, deduplicating while preserving first-seen
// order.
func (r *Resolver) ExpandGroups(items []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, item := range items {
		normalized := r.canonicalLocked(item)

		if tools, ok := r.groups[normalized]; ok {
			for _, tool := range tools {
				add(tool)
			}
			continue
		}
		if strings.HasPrefix(normalized, extPrefix) && strings.HasSuffix(normalized, ".*") {
			serverID := strings.TrimSuffix(strings.TrimPrefix(normalized, extPrefix), ".*")
			for _, tool := range r.extServers[serverID] {
				add(extPrefix + serverID + "." + tool)
			}
			continue
		}
		add(normalized)
	}
	return out
}

// Decide evaluates policy against toolName: deny rules first, then the
// full profile's allow-everything, then the profile's and policy's allow
// lists. The Reason names the rule that decided.
func (r *Resolver) Decide(policy *Policy, toolName string) Decision {
	normalized := r.CanonicalName(toolName)
	decision := Decision{Tool: normalized, Reason: "no matching allow rule"}

	if policy == nil {
		decision.Reason = "no policy configured"
		return decision
	}
	policy = r.effectivePolicyFor(policy, normalized)

	var allowed []string
	if policy.Profile != "" {
		if defaults, ok := ProfileDefaults[policy.Profile]; ok && defaults != nil {
			allowed = r.ExpandGroups(defaults.Allow)
		}
	}
	if len(policy.Allow) > 0 {
		allowed = append(allowed, r.ExpandGroups(policy.Allow)...)
	}

	for _, rule := range r.ExpandGroups(policy.Deny) {
		if matchPattern(rule, normalized) {
			decision.Reason = "denied by rule: " + rule
			return decision
		}
	}

	if policy.Profile == ProfileFull {
		decision.Allowed = true
		decision.Reason = "allowed by profile full"
		return decision
	}

	for _, rule := range allowed {
		if matchPattern(rule, normalized) {
			decision.Allowed = true
			decision.Reason = "allowed by rule: " + rule
			return decision
		}
	}
	return decision
}

// IsAllowed is Decide without the explanation.
func (r *Resolver) IsAllowed(policy *Policy, toolName string) bool {
	return r.Decide(policy, toolName).Allowed
}

// FilterAllowed keeps only the tools policy permits, for building the
// catalog presented to the model.
func (r *Resolver) FilterAllowed(policy *Policy, tools []string) []string {
	var out []string
	for _, tool := range tools {
		if r.IsAllowed(policy, tool) {
			out = append(out, tool)
		}
	}
	return out
}

// effectivePolicyFor merges the matching BySource override, if any, over
// the base policy. External tools match SourceExternal; everything else
// runs in this process and matches SourceHost.
func (r *Resolver) effectivePolicyFor(policy *Policy, toolName string) *Policy {
	if len(policy.BySource) == 0 {
		return policy
	}
	key := SourceHost
	if strings.HasPrefix(toolName, extPrefix) {
		key = SourceExternal
	}
	override, ok := policy.BySource[key]
	if !ok || override == nil {
		return policy
	}
	base := *policy
	base.BySource = nil
	scoped := *override
	scoped.BySource = nil
	return Merge(&base, &scoped)
}

// matchPattern matches one expanded rule against a canonical tool name:
// "*" matches anything, "ext:*" any external tool, a trailing ".*" any
// name under that prefix, anything else exactly.
func matchPattern(pattern, toolName string) bool {
	switch {
	case pattern == "*":
		return true
	case pattern == extPrefix+"*":
		return strings.HasPrefix(toolName, extPrefix)
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == toolName
	}
}
