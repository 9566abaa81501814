package agentloop

import (
	"strings"

	"github.com/l3ocifer/ironclaw/internal/vault"
)

// DefaultMaxToolResultSize truncates a tool result before it re-enters the
// thread and gets sent back to the model; a single tool run should never be
// allowed to blow the context window on its own.
const DefaultMaxToolResultSize = 64 * 1024

const redactedPlaceholder = "[REDACTED]"

// ToolResultGuard sanitizes a tool's output before it is appended to a
// Thread: oversized results are truncated, denylisted tool names are fully
// redacted, and any bytes the configured LeakScanner recognizes as a
// credential, a user pattern, or high-entropy noise are blanked out.
// Reusing the vault's scanner means a credential only needs to be taught
// to the vault once to be redacted everywhere, including here.
type ToolResultGuard struct {
	Scanner  *vault.LeakScanner
	MaxChars int
	Denylist []string
}

// NewToolResultGuard constructs a guard with DefaultMaxToolResultSize.
func NewToolResultGuard(scanner *vault.LeakScanner) *ToolResultGuard {
	return &ToolResultGuard{Scanner: scanner, MaxChars: DefaultMaxToolResultSize}
}

// Sanitize returns result rewritten to be safe to append to a thread.
func (g *ToolResultGuard) Sanitize(toolName, result string) string {
	if matchesPattern(g.Denylist, toolName) {
		return redactedPlaceholder
	}

	result = g.redactSecrets(result)

	maxChars := g.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxToolResultSize
	}
	if len(result) > maxChars {
		result = result[:maxChars] + "\n...[truncated]"
	}
	return result
}

// redactSecrets blanks every byte range the scanner flags. Hit ranges are
// walked front-to-back into a fresh builder, so offsets always refer to the
// original string; a hit that starts inside an already-redacted range is
// skipped.
func (g *ToolResultGuard) redactSecrets(result string) string {
	if g.Scanner == nil {
		return result
	}
	hits := g.Scanner.Scan([]byte(result))
	if len(hits) == 0 {
		return result
	}

	var b strings.Builder
	cursor := 0
	for _, hit := range hits {
		if hit.Start < cursor || hit.Start > len(result) || hit.End > len(result) || hit.End < hit.Start {
			continue
		}
		b.WriteString(result[cursor:hit.Start])
		b.WriteString(redactedPlaceholder)
		cursor = hit.End
	}
	b.WriteString(result[cursor:])
	return b.String()
}
