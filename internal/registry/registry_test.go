package registry

import (
	"encoding/json"
	"testing"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/policy"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{Name: "read", Source: SourceBuiltIn}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, ok := r.Get("read")
	if !ok || d.Name != "read" {
		t.Fatalf("expected to find registered tool, got %+v, %v", d, ok)
	}
}

func TestPrecedenceBuiltInBeatsSandboxed(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{Name: "fetch", Source: SourceSandboxed}); err != nil {
		t.Fatalf("register sandboxed: %v", err)
	}
	if err := r.Register(Descriptor{Name: "fetch", Source: SourceBuiltIn}); err != nil {
		t.Fatalf("register builtin: %v", err)
	}
	d, _ := r.Get("fetch")
	if d.Source != SourceBuiltIn {
		t.Fatalf("expected builtin to win precedence, got %s", d.Source)
	}
}

func TestSandboxedCannotShadowProtectedName(t *testing.T) {
	r := New()
	err := r.Register(Descriptor{Name: "task_create", Source: SourceSandboxed})
	if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected policy-denied for protected name shadowing, got %v", err)
	}
}

func TestDuplicateProtectedNameIsStartupError(t *testing.T) {
	r := New()
	if err := r.Register(Descriptor{Name: "task_create", Source: SourceBuiltIn}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(Descriptor{Name: "task_create", Source: SourceExternalProtocol})
	if ironerr.KindOf(err) != ironerr.KindConflict {
		t.Fatalf("expected conflict for duplicate protected registration, got %v", err)
	}
}

func TestResolveValidatesParameterSchema(t *testing.T) {
	r := New()
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	if err := r.Register(Descriptor{Name: "read", Source: SourceBuiltIn, ParameterSchema: schema}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.Resolve(nil, nil, "read", json.RawMessage(`{}`)); ironerr.KindOf(err) != ironerr.KindValidation {
		t.Fatalf("expected validation error for missing required field, got %v", err)
	}
	if _, err := r.Resolve(nil, nil, "read", json.RawMessage(`{"path":"/a"}`)); err != nil {
		t.Fatalf("expected valid args to resolve, got %v", err)
	}
}

func TestResolveDeniedByPolicy(t *testing.T) {
	r := New()
	_ = r.Register(Descriptor{Name: "exec", Source: SourceBuiltIn})
	resolver := policy.NewResolver()
	deny := &policy.Policy{Profile: policy.ProfileMinimal}
	if _, err := r.Resolve(resolver, deny, "exec", json.RawMessage(`{}`)); ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected policy-denied, got %v", err)
	}
}

func TestResolveUnknownTool(t *testing.T) {
	r := New()
	if _, err := r.Resolve(nil, nil, "missing", nil); ironerr.KindOf(err) != ironerr.KindNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	_ = r.Register(Descriptor{Name: "zeta", Source: SourceBuiltIn})
	_ = r.Register(Descriptor{Name: "alpha", Source: SourceBuiltIn})
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}
