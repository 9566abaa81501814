package policy

import "testing"

func TestDecideFullProfileAllowsUnlessDenied(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("task_archive")

	if d := r.Decide(p, "memory_write"); !d.Allowed {
		t.Fatalf("full profile should allow memory_write: %+v", d)
	}
	if d := r.Decide(p, "task_archive"); d.Allowed {
		t.Fatalf("explicit deny must win over profile full: %+v", d)
	}
}

func TestDecideMemoryProfileIsFlushShaped(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileMemory)

	for _, tool := range []string{"memory_search", "memory_get", "memory_write", "learning_add"} {
		if !r.IsAllowed(p, tool) {
			t.Errorf("memory profile should allow %s", tool)
		}
	}
	for _, tool := range []string{"task_create", "task_archive", "ext:github.create_issue"} {
		if r.IsAllowed(p, tool) {
			t.Errorf("memory profile must not allow %s", tool)
		}
	}
}

func TestDecideGroupDenyExpands(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("group:tasks")

	if r.IsAllowed(p, "task_update") {
		t.Fatal("group deny must cover every member tool")
	}
	if !r.IsAllowed(p, "memory_get") {
		t.Fatal("group deny must not spill outside the group")
	}
}

func TestExternalServerRegistrationAndWildcard(t *testing.T) {
	r := NewResolver()
	r.RegisterExternalServer("github", []string{"create_issue", "list_prs"})

	p := NewPolicy("").WithAllow("ext:github.*")
	if !r.IsAllowed(p, "ext:github.create_issue") {
		t.Fatal("server wildcard should allow its tools")
	}
	if r.IsAllowed(p, "ext:jira.create_ticket") {
		t.Fatal("wildcard must not leak across servers")
	}

	expanded := r.ExpandGroups([]string{"ext:github"})
	if len(expanded) != 2 || expanded[0] != "ext:github.create_issue" {
		t.Fatalf("server group expansion wrong: %v", expanded)
	}

	r.UnregisterExternalServer("github")
	if got := r.ExpandGroups([]string{"ext:github.*"}); len(got) != 0 {
		t.Fatalf("unregistered server should expand to nothing, got %v", got)
	}
}

func TestBySourceOverrideTightensExternalTools(t *testing.T) {
	r := NewResolver()
	r.RegisterExternalServer("github", []string{"create_issue"})
	p := &Policy{
		Profile: ProfileFull,
		BySource: map[string]*Policy{
			SourceExternal: {Deny: []string{"ext:*"}},
		},
	}

	if !r.IsAllowed(p, "memory_write") {
		t.Fatal("host tools should stay on the full profile")
	}
	if r.IsAllowed(p, "ext:github.create_issue") {
		t.Fatal("external override must deny protocol-server tools")
	}
}

func TestAliasesResolveBeforeDeciding(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileMemory)

	d := r.Decide(p, "remember")
	if !d.Allowed || d.Tool != "memory_write" {
		t.Fatalf("package alias should canonicalize and allow: %+v", d)
	}

	r.RegisterAlias("note", "memory_write")
	if d := r.Decide(p, "NOTE"); !d.Allowed || d.Tool != "memory_write" {
		t.Fatalf("registered alias should canonicalize case-insensitively: %+v", d)
	}
}

func TestExpandGroupsDeduplicates(t *testing.T) {
	r := NewResolver()
	got := r.ExpandGroups([]string{"group:memory", "memory_get", "group:readonly"})
	seen := make(map[string]int)
	for _, tool := range got {
		seen[tool]++
		if seen[tool] > 1 {
			t.Fatalf("duplicate %s in expansion %v", tool, got)
		}
	}
}

func TestReadonlyGroupHasNoMutatingTools(t *testing.T) {
	mutating := map[string]bool{
		"memory_write": true, "task_create": true, "task_update": true,
		"task_archive": true, "learning_add": true,
	}
	for _, tool := range DefaultGroups["group:readonly"] {
		if mutating[tool] {
			t.Errorf("readonly group contains mutating tool %s", tool)
		}
	}
}

func TestParseExternalTool(t *testing.T) {
	server, tool := ParseExternalTool("ext:github.create_issue")
	if server != "github" || tool != "create_issue" {
		t.Fatalf("got %q/%q", server, tool)
	}
	if s, _ := ParseExternalTool("memory_get"); s != "" {
		t.Fatal("non-external names must not parse")
	}
	if !IsExternalTool("EXT:github.x") || IsExternalTool("task_list") {
		t.Fatal("IsExternalTool misclassified")
	}
}
