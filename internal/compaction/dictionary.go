package compaction

import (
	"fmt"
	"sort"
	"strings"
)

const (
	dictMinSubstringLen = 12
	dictMaxCodebookSize = 62 // tokens $01-$62 (two decimal digits), kept small intentionally
	dictMinOccurrences  = 3
)

// Codebook maps a substitution token ("$01") to the original substring it
// replaces.
type Codebook map[string]string

// CompressWithDictionary runs a greedy substring codebook pass over text:
// it repeatedly finds the longest repeated substring that still pays for
// its own codebook entry and replaces every occurrence with a short token,
// returning the compressed text and the codebook needed to reverse it.
func CompressWithDictionary(text string) (string, Codebook) {
	codebook := make(Codebook)
	working := text
	tokenIndex := 1

	for tokenIndex <= dictMaxCodebookSize {
		candidate, count := bestRepeatedSubstring(working)
		if candidate == "" || count < dictMinOccurrences {
			break
		}
		token := fmt.Sprintf("$%02d", tokenIndex)
		saved := (len(candidate)-len(token))*count - len(candidate) // net bytes saved minus one stored copy
		if saved <= 0 {
			break
		}
		working = strings.ReplaceAll(working, candidate, token)
		codebook[token] = candidate
		tokenIndex++
	}
	return working, codebook
}

// ExpandDictionary reverses CompressWithDictionary, applying codebook
// entries in descending token order so a token is never substituted into
// freshly-expanded text.
func ExpandDictionary(compressed string, codebook Codebook) string {
	tokens := make([]string, 0, len(codebook))
	for t := range codebook {
		tokens = append(tokens, t)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(tokens)))
	out := compressed
	for _, t := range tokens {
		out = strings.ReplaceAll(out, t, codebook[t])
	}
	return out
}

// bestRepeatedSubstring finds the longest substring of at least
// dictMinSubstringLen bytes seen at least dictMinOccurrences times, trying
// lengths from half the input downward and counting candidates at a stride
// of half the length, which suits the modest (post-summarization) input
// sizes this stage runs over. The stride means occurrences at other offsets
// are not counted.
func bestRepeatedSubstring(s string) (string, int) {
	if len(s) < dictMinSubstringLen*2 {
		return "", 0
	}
	counts := make(map[string]int)
	for length := len(s) / 2; length >= dictMinSubstringLen; length-- {
		counts = countSubstringsOfLength(s, length)
		for sub, n := range counts {
			if n >= dictMinOccurrences {
				return sub, n
			}
		}
	}
	return "", 0
}

func countSubstringsOfLength(s string, length int) map[string]int {
	counts := make(map[string]int)
	step := length / 2
	if step < 1 {
		step = 1
	}
	for i := 0; i+length <= len(s); i += step {
		counts[s[i:i+length]]++
	}
	return counts
}
