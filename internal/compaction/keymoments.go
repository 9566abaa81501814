package compaction

import (
	"strings"
)

// KeyMoment is a pinned turn preserved verbatim across compaction. Content
// is copied byte-for-byte from the source Message; nothing in this package
// may rewrite it.
type KeyMoment struct {
	Role    string
	Content string
}

// FormatKeyMoments renders kept turns as a "Key Moments" section, each turn
// reproduced verbatim. Order matches the order turns appeared in the
// thread.
func FormatKeyMoments(kept []*Message) string {
	if len(kept) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Key Moments\n")
	for _, m := range kept {
		if m == nil {
			continue
		}
		b.WriteString("- [" + m.Role + "] " + m.Content + "\n")
	}
	return strings.TrimSpace(b.String())
}

var fileOpMarkers = []string{"wrote ", "created ", "deleted ", "modified ", "renamed ", "moved "}

// HarvestToolFailures pulls failed tool invocations out of the compacted
// region so their detail survives summarization even though the turn
// itself gets compressed away.
func HarvestToolFailures(messages []*Message) []string {
	var out []string
	for _, m := range messages {
		if m == nil || m.Role != "tool" {
			continue
		}
		if looksLikeToolFailure(m.Content) || looksLikeToolFailure(m.ToolResults) {
			out = append(out, firstLine(pickNonEmpty(m.ToolResults, m.Content)))
		}
	}
	return out
}

// HarvestFileOperations pulls workspace file-effect lines (wrote/created/
// deleted/modified/renamed/moved) out of the compacted region.
func HarvestFileOperations(messages []*Message) []string {
	var out []string
	for _, m := range messages {
		if m == nil {
			continue
		}
		lower := strings.ToLower(m.Content)
		for _, marker := range fileOpMarkers {
			if strings.Contains(lower, marker) {
				out = append(out, firstLine(m.Content))
				break
			}
		}
	}
	return out
}

func looksLikeToolFailure(s string) bool {
	if s == "" {
		return false
	}
	return obsErrorRe.MatchString(s)
}

func pickNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// SummaryWithTails concatenates the observation summary with its "Tool
// Failures" and "File Operations" tails, omitting the Key Moments section
// (callers that keep pinned turns as real messages append this text
// alongside them rather than duplicating their content here).
func (r PipelineResult) SummaryWithTails() string {
	var sections []string
	if strings.TrimSpace(r.Summary) != "" {
		sections = append(sections, r.Summary)
	}
	if len(r.ToolFailures) > 0 {
		var b strings.Builder
		b.WriteString("## Tool Failures\n")
		for _, f := range r.ToolFailures {
			b.WriteString("- " + f + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}
	if len(r.FileOperations) > 0 {
		var b strings.Builder
		b.WriteString("## File Operations\n")
		for _, f := range r.FileOperations {
			b.WriteString("- " + f + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}
	return strings.Join(sections, "\n\n")
}

// Document assembles the full compaction artifact: the observation
// summary, a "Tool Failures" tail and a "File Operations" tail harvested
// from the compacted region, and a "Key Moments" section of verbatim
// pinned turns. Sections with nothing to show are omitted.
func (r PipelineResult) Document() string {
	var sections []string
	if strings.TrimSpace(r.Summary) != "" {
		sections = append(sections, r.Summary)
	}
	if len(r.ToolFailures) > 0 {
		var b strings.Builder
		b.WriteString("## Tool Failures\n")
		for _, f := range r.ToolFailures {
			b.WriteString("- " + f + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}
	if len(r.FileOperations) > 0 {
		var b strings.Builder
		b.WriteString("## File Operations\n")
		for _, f := range r.FileOperations {
			b.WriteString("- " + f + "\n")
		}
		sections = append(sections, strings.TrimSpace(b.String()))
	}
	if km := FormatKeyMoments(r.KeptMessages); km != "" {
		sections = append(sections, km)
	}
	return strings.Join(sections, "\n\n")
}
