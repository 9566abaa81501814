package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
	"github.com/l3ocifer/ironclaw/internal/net/ssrf"
	"github.com/l3ocifer/ironclaw/internal/vault"
)

// ToolInvoker dispatches a recursive tools.invoke call back through the
// registry. It is set on HostBridge.InvokeTool by whoever wires the bridge;
// this package never imports internal/registry (registry depends on
// sandbox, not the reverse).
type ToolInvoker func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

// AuditSink receives a record every time a host call takes a securityrelevant
// action (leak redaction, allowlist check, credential resolution).
type AuditSink func(record AuditRecord)

// AuditRecord is one security-relevant event emitted by a host call.
type AuditRecord struct {
	ToolID string
	Call   string
	Detail string
}

// HostBridge implements the business logic behind every host call the
// guest can make. It holds no reference to any wasm runtime type: the ABI
// marshalling glue in wazero_bridge.go is a thin adapter over these
// methods, which are unit-testable on their own.
type HostBridge struct {
	HTTPClient    *http.Client
	LeakScanner   *vault.LeakScanner
	ResolveSecret vault.HostResolver
	InvokeTool    ToolInvoker
	WorkspaceRoot string
	ReadFile      func(path string) ([]byte, error)
	WriteFile     func(path string, data []byte) error
	Audit         AuditSink
	Logger        func(level, msg string)

	invokeDepthLimit int
}

// NewHostBridge constructs a bridge with the default recursion-depth limit
// (how many nested tools.invoke calls a single agent turn may chain
// through).
func NewHostBridge() *HostBridge {
	return &HostBridge{
		HTTPClient:       &http.Client{Timeout: 30 * time.Second},
		invokeDepthLimit: 8,
	}
}

// HTTPRequestParams mirrors the guest-visible http.request arguments.
type HTTPRequestParams struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Host    string            `json:"host"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// Placeholders maps a header name or "body" to a credential name that
	// should be substituted in after leak-scanning and allowlist checks.
	Placeholders map[string]string `json:"placeholders,omitempty"`
}

// HTTPResponseResult mirrors the guest-visible http.request result.
type HTTPResponseResult struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
	Redacted   bool              `json:"redacted,omitempty"`
}

// HTTPRequest implements the http.request host call. The order is
// load-bearing: leak-scan the outbound body, resolve secret placeholders,
// check the allowlist, send, leak-scan the response, redact on hit —
// placeholders resolve after the outbound scan so a credential reference is
// never flagged as the credential itself.
func (b *HostBridge) HTTPRequest(ctx context.Context, toolID string, caps Capabilities, req HTTPRequestParams) (HTTPResponseResult, error) {
	if b.LeakScanner != nil {
		for _, hit := range b.LeakScanner.Scan([]byte(req.Body)) {
			b.audit(toolID, "http.request", fmt.Sprintf("outbound leak hit kind=%s credential=%s", hit.Kind, hit.CredentialID))
			return HTTPResponseResult{}, ironerr.New(ironerr.KindSecretLeak, "sandbox.HTTPRequest",
				"outbound payload matched a secret leak pattern")
		}
		for name, h := range req.Headers {
			for _, hit := range b.LeakScanner.Scan([]byte(h)) {
				b.audit(toolID, "http.request", fmt.Sprintf("outbound header %q leak hit credential=%s", name, hit.CredentialID))
				return HTTPResponseResult{}, ironerr.New(ironerr.KindSecretLeak, "sandbox.HTTPRequest",
					"outbound header matched a secret leak pattern")
			}
		}
	}

	body := req.Body
	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	if b.ResolveSecret != nil {
		for pos, credName := range req.Placeholders {
			if !contains(caps.SecretsRead, credName) {
				return HTTPResponseResult{}, ironerr.New(ironerr.KindPolicyDenied, "sandbox.HTTPRequest",
					"tool does not hold SecretsRead for "+credName)
			}
			plaintext, err := b.ResolveSecret(ctx, toolID, credName)
			if err != nil {
				return HTTPResponseResult{}, err
			}
			if pos == "body" {
				body = strings.Replace(body, "${"+credName+"}", plaintext, 1)
			} else {
				headers[pos] = plaintext
			}
		}
	}

	hostAndPath := req.Host + req.Path
	if !matchesAllowlist(caps.HttpOutboundAllowlist, hostAndPath) && !matchesAllowlist(caps.HttpOutboundAllowlist, req.Host) {
		return HTTPResponseResult{}, ironerr.New(ironerr.KindPolicyDenied, "sandbox.HTTPRequest",
			fmt.Sprintf("%s is not in the tool's http allowlist", hostAndPath))
	}

	// A wildcard allowlist entry must not reach into the host's own
	// network: private, loopback, and metadata targets additionally need
	// an exact allowlist entry naming them.
	if err := ssrf.Check(req.Host); err != nil {
		if !contains(caps.HttpOutboundAllowlist, req.Host) && !contains(caps.HttpOutboundAllowlist, ssrf.Normalize(req.Host)) {
			b.audit(toolID, "http.request", "private target refused: "+req.Host)
			return HTTPResponseResult{}, ironerr.Wrap(ironerr.KindPolicyDenied, "sandbox.HTTPRequest", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewBufferString(body))
	if err != nil {
		return HTTPResponseResult{}, ironerr.Wrap(ironerr.KindIO, "sandbox.HTTPRequest", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	client := b.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return HTTPResponseResult{}, ironerr.Wrap(ironerr.KindIO, "sandbox.HTTPRequest", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return HTTPResponseResult{}, ironerr.Wrap(ironerr.KindIO, "sandbox.HTTPRequest", err)
	}

	result := HTTPResponseResult{StatusCode: resp.StatusCode, Body: string(respBody)}
	if b.LeakScanner != nil {
		if hits := b.LeakScanner.Scan(respBody); len(hits) > 0 {
			result.Body = redact(respBody, hits)
			result.Redacted = true
			b.audit(toolID, "http.request", fmt.Sprintf("inbound response redacted, %d hit(s)", len(hits)))
		}
	}
	return result, nil
}

func redact(data []byte, hits []vault.Hit) string {
	// The scanner reports automaton, regex, and entropy hits in separate
	// passes; order them by offset before splicing or later hits would be
	// skipped as overlapping.
	sorted := make([]vault.Hit, len(hits))
	copy(sorted, hits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]byte, 0, len(data))
	pos := 0
	for _, h := range sorted {
		if h.Start < pos || h.Start > len(data) || h.End > len(data) || h.End < h.Start {
			continue
		}
		out = append(out, data[pos:h.Start]...)
		out = append(out, []byte("[REDACTED:"+string(h.Kind)+"]")...)
		pos = h.End
	}
	out = append(out, data[pos:]...)
	return string(out)
}

// ToolsInvoke implements the tools.invoke host call: only tool names the
// capability set explicitly grants may be called, and depth is bounded per
// agent turn.
func (b *HostBridge) ToolsInvoke(ctx context.Context, caps Capabilities, depth int, name string, args json.RawMessage) (json.RawMessage, error) {
	if depth >= b.invokeDepthLimit {
		return nil, ironerr.New(ironerr.KindPolicyDenied, "sandbox.ToolsInvoke", "invocation-depth limit exceeded")
	}
	if !contains(caps.ToolInvoke, name) {
		return nil, ironerr.New(ironerr.KindPolicyDenied, "sandbox.ToolsInvoke", "tool not in ToolInvoke capability: "+name)
	}
	if b.InvokeTool == nil {
		return nil, ironerr.New(ironerr.KindConfig, "sandbox.ToolsInvoke", "no tool invoker configured")
	}
	return b.InvokeTool(ctx, name, args)
}

// WorkspaceRead implements workspace.read, bounded to granted prefixes.
func (b *HostBridge) WorkspaceRead(caps Capabilities, path string) ([]byte, error) {
	if !hasPrefixAny(caps.WorkspaceReadPrefixes, path) {
		return nil, ironerr.New(ironerr.KindPolicyDenied, "sandbox.WorkspaceRead", "path not in granted read prefixes: "+path)
	}
	if b.ReadFile == nil {
		return nil, ironerr.New(ironerr.KindConfig, "sandbox.WorkspaceRead", "no workspace reader configured")
	}
	return b.ReadFile(path)
}

// WorkspaceWrite implements workspace.write, bounded to granted prefixes.
func (b *HostBridge) WorkspaceWrite(caps Capabilities, path string, data []byte) error {
	if !hasPrefixAny(caps.WorkspaceWritePrefixes, path) {
		return ironerr.New(ironerr.KindPolicyDenied, "sandbox.WorkspaceWrite", "path not in granted write prefixes: "+path)
	}
	if b.WriteFile == nil {
		return ironerr.New(ironerr.KindConfig, "sandbox.WorkspaceWrite", "no workspace writer configured")
	}
	return b.WriteFile(path, data)
}

// RandomBytes returns n CSPRNG bytes for the random.bytes(n) host call.
func (b *HostBridge) RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "sandbox.RandomBytes", err)
	}
	return buf, nil
}

// TimeNow returns the current time for the time.now() host call.
func (b *HostBridge) TimeNow() time.Time { return time.Now() }

// Log implements the log(level, msg) utility host call.
func (b *HostBridge) Log(level, msg string) {
	if b.Logger != nil {
		b.Logger(level, msg)
	}
}

func (b *HostBridge) audit(toolID, call, detail string) {
	if b.Audit != nil {
		b.Audit(AuditRecord{ToolID: toolID, Call: call, Detail: detail})
	}
}
