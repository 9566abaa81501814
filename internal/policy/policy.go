// Package policy decides which tools an agent may call. A Policy combines
// a base profile with explicit allow and deny lists; deny always wins.
// Group references ("group:memory") and external-server wildcards
// ("ext:github.*") expand to concrete tool names at decision time, and a
// per-source override lets an operator run host tools open while keeping
// external protocol servers on a short leash.
package policy

import "strings"

// Profile is a pre-configured access level.
type Profile string

const (
	// ProfileMinimal permits reading memory and nothing else.
	ProfileMinimal Profile = "minimal"

	// ProfileMemory permits the memory and learning operations — the set
	// a pre-compaction flush runs with.
	ProfileMemory Profile = "memory"

	// ProfileReadOnly permits every operation that cannot mutate state.
	ProfileReadOnly Profile = "readonly"

	// ProfileFull permits every tool not explicitly denied.
	ProfileFull Profile = "full"
)

// Policy is one agent's tool-access rule set.
type Policy struct {
	// Profile is the base access level; Allow extends it, Deny overrides
	// everything.
	Profile Profile  `yaml:"profile"`
	Allow   []string `yaml:"allow,omitempty"`
	Deny    []string `yaml:"deny,omitempty"`

	// BySource scopes additional rules to where a tool runs: key
	// "external" applies to ext:-prefixed protocol-server tools, key
	// "host" to everything running in this process (built-in and
	// sandboxed alike). A matching override is merged over the base
	// policy before deciding.
	BySource map[string]*Policy `yaml:"by_source,omitempty"`
}

// SourceExternal and SourceHost are the BySource keys.
const (
	SourceExternal = "external"
	SourceHost     = "host"
)

// extPrefix marks tools served by an external protocol server, named
// "ext:<server>.<tool>".
const extPrefix = "ext:"

// DefaultGroups are the built-in tool groups, referenced in policies as
// "group:<name>". They cover the protected built-in operations; external
// servers get their own "ext:<server>" group at registration time.
var DefaultGroups = map[string][]string{
	"group:memory":    {"memory_search", "memory_get", "memory_write"},
	"group:tasks":     {"task_create", "task_update", "task_list", "task_export", "task_archive"},
	"group:learnings": {"learning_add", "learning_list"},
	"group:builtin": {
		"memory_search", "memory_get", "memory_write",
		"task_create", "task_update", "task_list", "task_export", "task_archive",
		"learning_add", "learning_list",
	},
	"group:readonly": {"memory_search", "memory_get", "task_list", "task_export", "learning_list"},
}

// ProfileDefaults maps each profile to the allow list it starts from.
// ProfileFull has no list: it allows anything not denied.
var ProfileDefaults = map[Profile]*Policy{
	ProfileMinimal:  {Allow: []string{"memory_get"}},
	ProfileMemory:   {Allow: []string{"group:memory", "group:learnings"}},
	ProfileReadOnly: {Allow: []string{"group:readonly"}},
	ProfileFull:     {},
}

// ToolAliases maps alternative names a model may emit to canonical tool
// names.
var ToolAliases = map[string]string{
	"memory_read":  "memory_get",
	"memory_save":  "memory_write",
	"remember":     "memory_write",
	"task_add":     "task_create",
	"task_new":     "task_create",
	"task_status":  "task_update",
	"learn":        "learning_add",
	"lessons_list": "learning_list",
}

// NormalizeTool lowercases, trims, and resolves the package-level aliases.
func NormalizeTool(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := ToolAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// NormalizeTools normalizes a list, dropping entries that normalize away.
func NormalizeTools(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if n := NormalizeTool(name); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// IsExternalTool reports whether name refers to an external protocol
// server's tool.
func IsExternalTool(name string) bool {
	return strings.HasPrefix(NormalizeTool(name), extPrefix)
}

// ParseExternalTool splits "ext:server.tool" into its server id and tool
// name; both empty when name isn't an external reference.
func ParseExternalTool(name string) (serverID, tool string) {
	normalized := NormalizeTool(name)
	if !strings.HasPrefix(normalized, extPrefix) {
		return "", ""
	}
	rest := strings.TrimPrefix(normalized, extPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Merge combines policies left to right: the last non-empty profile wins,
// allow and deny lists accumulate, and BySource entries from later
// policies replace earlier ones.
func Merge(policies ...*Policy) *Policy {
	result := &Policy{}
	for _, p := range policies {
		if p == nil {
			continue
		}
		if p.Profile != "" {
			result.Profile = p.Profile
		}
		result.Allow = append(result.Allow, p.Allow...)
		result.Deny = append(result.Deny, p.Deny...)
		if len(p.BySource) > 0 {
			if result.BySource == nil {
				result.BySource = make(map[string]*Policy)
			}
			for key, override := range p.BySource {
				result.BySource[key] = override
			}
		}
	}
	return result
}

// NewPolicy starts a policy from a profile; WithAllow and WithDeny chain.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow appends tools to the allow list.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny appends tools to the deny list.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}
