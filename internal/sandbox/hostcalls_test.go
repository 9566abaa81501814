package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	return vault.OpenWithKey(key)
}

func TestHTTPRequestDeniedOutsideAllowlist(t *testing.T) {
	b := NewHostBridge()
	caps := Capabilities{}
	_, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: "https://evil.example.com/x", Host: "evil.example.com", Path: "/x",
	})
	if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected policy-denied, got %v", err)
	}
}

func TestHTTPRequestSucceedsWithinAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	b := NewHostBridge()
	caps := Capabilities{HttpOutboundAllowlist: []string{srv.Listener.Addr().String()}}
	result, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: srv.URL, Host: srv.Listener.Addr().String(), Path: "/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "ok" {
		t.Fatalf("unexpected body: %q", result.Body)
	}
}

func TestHTTPRequestAbortsOnOutboundLeak(t *testing.T) {
	v := testVault(t)
	if err := v.Store("PROD_KEY", vault.KindAPIKey, "sk-leaktest12345", []string{"tool-a"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	b := NewHostBridge()
	b.LeakScanner = vault.NewLeakScanner(v, nil)
	caps := Capabilities{HttpOutboundAllowlist: []string{"*"}}
	_, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodPost, URL: "https://api.example.com/x", Host: "api.example.com", Path: "/x",
		Body: "leaking sk-leaktest12345 here",
	})
	if ironerr.KindOf(err) != ironerr.KindSecretLeak {
		t.Fatalf("expected secret-leak abort, got %v", err)
	}
}

func TestHTTPRequestResolvesSecretPlaceholder(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	v := testVault(t)
	if err := v.Store("API_TOKEN", vault.KindBearer, "secret-token-value", []string{"tool-a"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	b := NewHostBridge()
	b.ResolveSecret = v.NewHostResolver()
	caps := Capabilities{
		HttpOutboundAllowlist: []string{srv.Listener.Addr().String()},
		SecretsRead:           []string{"API_TOKEN"},
	}
	_, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: srv.URL, Host: srv.Listener.Addr().String(), Path: "/",
		Headers:      map[string]string{"Authorization": "placeholder"},
		Placeholders: map[string]string{"Authorization": "API_TOKEN"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received != "secret-token-value" {
		t.Fatalf("expected resolved secret header, got %q", received)
	}
}

func TestHTTPRequestDeniesSecretOutsideCapability(t *testing.T) {
	v := testVault(t)
	_ = v.Store("API_TOKEN", vault.KindBearer, "secret-token-value", []string{"tool-a"})
	b := NewHostBridge()
	b.ResolveSecret = v.NewHostResolver()
	caps := Capabilities{HttpOutboundAllowlist: []string{"*"}} // no SecretsRead grant
	_, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: "https://api.example.com", Host: "api.example.com", Path: "/",
		Placeholders: map[string]string{"Authorization": "API_TOKEN"},
	})
	if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected policy-denied, got %v", err)
	}
}

func TestToolsInvokeDeniedOutsideCapability(t *testing.T) {
	b := NewHostBridge()
	b.InvokeTool = func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	_, err := b.ToolsInvoke(context.Background(), Capabilities{}, 0, "other-tool", nil)
	if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected policy-denied, got %v", err)
	}
}

func TestToolsInvokeDepthLimit(t *testing.T) {
	b := NewHostBridge()
	caps := Capabilities{ToolInvoke: []string{"sub-tool"}}
	_, err := b.ToolsInvoke(context.Background(), caps, b.invokeDepthLimit, "sub-tool", nil)
	if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected depth-limit denial, got %v", err)
	}
}

func TestWorkspaceReadBoundToPrefix(t *testing.T) {
	b := NewHostBridge()
	b.ReadFile = func(path string) ([]byte, error) { return []byte("contents"), nil }
	caps := Capabilities{WorkspaceReadPrefixes: []string{"/workspace/src"}}

	if _, err := b.WorkspaceRead(caps, "/etc/passwd"); ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected denial outside prefix, got %v", err)
	}
	data, err := b.WorkspaceRead(caps, "/workspace/src/main.go")
	if err != nil || string(data) != "contents" {
		t.Fatalf("expected read to succeed inside prefix, got %q, %v", data, err)
	}
}

func TestWorkspaceWriteBoundToPrefix(t *testing.T) {
	var written []byte
	b := NewHostBridge()
	b.WriteFile = func(path string, data []byte) error { written = data; return nil }
	caps := Capabilities{WorkspaceWritePrefixes: []string{"/workspace/out"}}

	if err := b.WorkspaceWrite(caps, "/workspace/src/x", []byte("x")); ironerr.KindOf(err) != ironerr.KindPolicyDenied {
		t.Fatalf("expected denial outside prefix, got %v", err)
	}
	if err := b.WorkspaceWrite(caps, "/workspace/out/result.txt", []byte("done")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(written) != "done" {
		t.Fatalf("expected write to be delegated, got %q", written)
	}
}

func TestRandomBytesLength(t *testing.T) {
	b := NewHostBridge()
	data, err := b.RandomBytes(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("expected 16 bytes, got %d", len(data))
	}
}

func TestAuditFiresOnRedaction(t *testing.T) {
	v := testVault(t)
	_ = v.Store("PROD_KEY", vault.KindAPIKey, "sk-responseleak99", []string{"*"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("token is sk-responseleak99"))
	}))
	defer srv.Close()

	var audited bool
	b := NewHostBridge()
	b.LeakScanner = vault.NewLeakScanner(v, nil)
	b.Audit = func(rec AuditRecord) { audited = true }
	caps := Capabilities{HttpOutboundAllowlist: []string{srv.Listener.Addr().String()}}

	result, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: srv.URL, Host: srv.Listener.Addr().String(), Path: "/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Redacted {
		t.Fatal("expected response to be marked redacted")
	}
	if !audited {
		t.Fatal("expected audit sink to fire on redaction")
	}
}

func TestHTTPRequestWildcardDoesNotReachPrivateTargets(t *testing.T) {
	b := NewHostBridge()
	caps := Capabilities{HttpOutboundAllowlist: []string{"*"}}
	for _, host := range []string{"127.0.0.1:8080", "169.254.169.254", "metadata.google.internal", "10.0.0.5"} {
		_, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
			Method: http.MethodGet, URL: "http://" + host + "/", Host: host, Path: "/",
		})
		if ironerr.KindOf(err) != ironerr.KindPolicyDenied {
			t.Errorf("expected wildcard grant to refuse private target %s, got %v", host, err)
		}
	}
}

func TestHTTPRequestExactEntryGrantsPrivateTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("local ok"))
	}))
	defer srv.Close()

	// httptest binds to 127.0.0.1; the exact allowlist entry is the
	// operator's explicit grant for that private target.
	host := srv.Listener.Addr().String()
	b := NewHostBridge()
	caps := Capabilities{HttpOutboundAllowlist: []string{host}}
	result, err := b.HTTPRequest(context.Background(), "tool-a", caps, HTTPRequestParams{
		Method: http.MethodGet, URL: srv.URL, Host: host, Path: "/",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != "local ok" {
		t.Fatalf("unexpected body: %q", result.Body)
	}
}

func TestRedactHandlesUnorderedHits(t *testing.T) {
	data := []byte("aaa SECRET bbb TOKEN ccc")
	hits := []vault.Hit{
		{CredentialID: "B", Kind: vault.HitEntropy, Start: 15, End: 20},
		{CredentialID: "A", Kind: vault.HitExactValue, Start: 4, End: 10},
	}
	got := redact(data, hits)
	if strings.Contains(got, "SECRET") || strings.Contains(got, "TOKEN") {
		t.Fatalf("unordered hits left a secret in place: %q", got)
	}
	if strings.Count(got, "[REDACTED:") != 2 {
		t.Fatalf("expected two redactions, got %q", got)
	}
}
