package guard

import (
	"regexp"
	"strings"
)

// segmentSplit matches the shell operators that chain or nest commands:
// &&, ||, a single |, ;, backtick command substitution, and $(...) command
// substitution. Evaluate recurses into each piece so a destructive command
// cannot hide behind a pipeline or a nested shell-out.
var segmentSplit = regexp.MustCompile(`&&|\|\||\||;|` + "`" + `([^` + "`" + `]*)` + "`" + `|\$\(([^()]*)\)`)

// heredocStart captures a heredoc's opening redirect and delimiter tag. Go's
// RE2 engine has no backreferences, so matching the closing tag against the
// opening one is done with plain string search in heredocBodyFor rather than
// a single regex.
var heredocStart = regexp.MustCompile(`<<-?\s*['"]?(\w+)['"]?\s*\n`)

// inlineScriptBody extracts the single- or double-quoted body of an
// interpreter's inline-eval flag (`python -c "..."`, `node -e '...'`,
// `ruby -e "..."`), since those bodies run arbitrary code the outer shell
// command never reveals directly. Two alternatives stand in for a
// backreference on the quote character, which RE2 cannot express.
var inlineScriptBody = regexp.MustCompile(`\b(?:python3?|node|ruby|perl)\s+(?:-c|-e)\s+(?:"([^"]*)"|'([^']*)')`)

// segments splits cmd into the individual command strings a shell would
// actually execute: each side of &&/||/|/;, the body of any backtick or
// $(...) substitution, any heredoc body, and the body of an inline
// interpreter eval flag. The original cmd is always included so whole-string
// patterns (like the fork-bomb signature) still match.
func segments(cmd string) []string {
	out := []string{cmd}

	for _, part := range segmentSplit.Split(cmd, -1) {
		if trimmed := trimSegment(part); trimmed != "" && trimmed != cmd {
			out = append(out, trimmed)
		}
	}
	for _, m := range segmentSplit.FindAllStringSubmatch(cmd, -1) {
		for _, g := range m[1:] {
			if g != "" {
				out = append(out, g)
			}
		}
	}
	if body, ok := heredocBodyFor(cmd); ok {
		out = append(out, body)
	}
	if m := inlineScriptBody.FindStringSubmatch(cmd); m != nil {
		if m[1] != "" {
			out = append(out, m[1])
		} else if m[2] != "" {
			out = append(out, m[2])
		}
	}
	return out
}

// heredocBodyFor returns the body of the first `<<TAG ... TAG` heredoc in
// cmd, if any. The closing line must consist of exactly the opening tag
// (optionally indented, as with `<<-`).
func heredocBodyFor(cmd string) (string, bool) {
	loc := heredocStart.FindStringSubmatchIndex(cmd)
	if loc == nil {
		return "", false
	}
	tag := cmd[loc[2]:loc[3]]
	rest := cmd[loc[1]:]

	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == tag {
			return strings.Join(lines[:i], "\n"), true
		}
	}
	return "", false
}

func trimSegment(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
