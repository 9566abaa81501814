package compaction

import (
	"strings"
	"unicode"
)

// NormalizeWhitespace collapses runs of horizontal whitespace to a single
// space and any run of two or more blank lines to exactly one, the final low-risk pass
// in the pipeline once prior stages have already done the heavy lifting.
func NormalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	blankRun := 0
	for _, line := range lines {
		trimmed := collapseSpaces(strings.TrimRight(line, " \t"))
		if trimmed == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func collapseSpaces(s string) string {
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t'
		if isSpace && prevSpace {
			continue
		}
		b.WriteRune(r)
		prevSpace = isSpace
	}
	return b.String()
}

// isCJK reports whether r falls in a CJK unified ideograph, hiragana,
// katakana, or hangul syllable range, where word-boundary whitespace rules
// don't apply the way they do for Latin scripts.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
		return true
	default:
		return false
	}
}

// CollapsePunctuationRuns reduces repeated punctuation ("......", "!!!!")
// to at most two characters, a common artifact of pasted log output.
func CollapsePunctuationRuns(text string) string {
	var b strings.Builder
	runRune := rune(0)
	runLen := 0
	for _, r := range text {
		if unicode.IsPunct(r) && r == runRune {
			runLen++
			if runLen > 2 {
				continue
			}
		} else {
			runRune = r
			runLen = 1
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TruncateRespectingWordBoundary truncates s to at most maxLen bytes
// without splitting a Latin word or a CJK character, appending an ellipsis
// if truncation occurred.
func TruncateRespectingWordBoundary(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	runes := []rune(s)
	total := 0
	end := len(runes)
	for i, r := range runes {
		width := len(string(r))
		if total+width > cut {
			end = i
			break
		}
		total += width
	}
	if end < len(runes) && !isCJK(runes[end]) {
		for end > 0 && !unicode.IsSpace(runes[end-1]) && !isCJK(runes[end-1]) {
			end--
		}
	}
	return strings.TrimSpace(string(runes[:end])) + "…"
}
