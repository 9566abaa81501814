package vault

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// HitKind distinguishes how a leak was detected.
type HitKind string

const (
	HitExactValue HitKind = "exact-value"
	HitPattern    HitKind = "user-pattern"
	HitEntropy    HitKind = "high-entropy"
)

// Hit reports a leak-scan match. CredentialID is populated for exact-value
// and user-pattern hits; entropy hits have no known credential and report
// CredentialID == "". The matched bytes themselves are never included.
type Hit struct {
	CredentialID string
	Kind         HitKind
	Start, End   int
}

// ExtraPattern is a user-configured additional secret to scan for, beyond
// what the vault holds (e.g. a value the user pastes into chat once but
// never stores as a named credential).
type ExtraPattern struct {
	ID      string
	Literal string // exact substring to match, scanned via the same automaton
	Regex   *regexp.Regexp
}

// LeakScanner scans byte slices for credential values, user-configured
// patterns, and generically high-entropy substrings. Its automaton is
// rebuilt whenever the backing vault mutates, via Vault.OnMutate.
type LeakScanner struct {
	mu       sync.RWMutex
	automaton *ahoCorasick
	idByTerm  []string // parallel to automaton pattern indices

	extraRegex []ExtraPattern

	entropyMinLen    int
	entropyThreshold float64
}

// NewLeakScanner builds a scanner over v's current credentials plus any
// extra patterns, and registers itself to rebuild on every vault mutation.
func NewLeakScanner(v *Vault, extra []ExtraPattern) *LeakScanner {
	s := &LeakScanner{
		entropyMinLen:    20,
		entropyThreshold: 4.0, // bits/char; base64-style secrets land above this, hex (at most 4.0) does not
	}
	for _, e := range extra {
		if e.Regex != nil {
			s.extraRegex = append(s.extraRegex, e)
		}
	}
	s.rebuild(v, extra)
	v.OnMutate(func() { s.rebuild(v, extra) })
	return s
}

func (s *LeakScanner) rebuild(v *Vault, extra []ExtraPattern) {
	v.mu.RLock()
	names := make([]string, 0, len(v.credentials))
	for name := range v.credentials {
		names = append(names, name)
	}
	v.mu.RUnlock()

	var terms []string
	var ids []string
	for _, name := range names {
		plaintext, ok, err := v.decrypt(name)
		if err != nil || !ok || plaintext == "" {
			continue
		}
		terms = append(terms, plaintext)
		ids = append(ids, name)
	}
	for _, e := range extra {
		if e.Literal == "" {
			continue
		}
		terms = append(terms, e.Literal)
		ids = append(ids, e.ID)
	}

	automaton := buildAhoCorasick(terms)

	s.mu.Lock()
	s.automaton = automaton
	s.idByTerm = ids
	s.mu.Unlock()
}

// Scan reports every leak hit found in data: exact credential/pattern
// matches from the Aho-Corasick automaton, user regex patterns, and
// generically high-entropy runs that weren't already matched exactly.
func (s *LeakScanner) Scan(data []byte) []Hit {
	s.mu.RLock()
	automaton := s.automaton
	ids := s.idByTerm
	extraRegex := s.extraRegex
	s.mu.RUnlock()

	var hits []Hit
	covered := make([]bool, len(data))

	if automaton != nil {
		for _, m := range automaton.Search(data) {
			id := ""
			if m.PatternIndex < len(ids) {
				id = ids[m.PatternIndex]
			}
			hits = append(hits, Hit{CredentialID: id, Kind: HitExactValue, Start: m.Start, End: m.End})
			for i := m.Start; i < m.End && i < len(covered); i++ {
				covered[i] = true
			}
		}
	}

	text := string(data)
	for _, e := range extraRegex {
		for _, loc := range e.Regex.FindAllStringIndex(text, -1) {
			hits = append(hits, Hit{CredentialID: e.ID, Kind: HitPattern, Start: loc[0], End: loc[1]})
			for i := loc[0]; i < loc[1] && i < len(covered); i++ {
				covered[i] = true
			}
		}
	}

	hits = append(hits, s.scanEntropy(data, covered)...)
	return hits
}

// Scrub returns in with every hit replaced by a redaction marker carrying
// the hit kind, never the value. Suitable as a logging scrubber: the
// automaton rebuilds on every vault mutation, so freshly stored
// credentials are caught immediately.
func (s *LeakScanner) Scrub(in string) string {
	data := []byte(in)
	hits := s.Scan(data)
	if len(hits) == 0 {
		return in
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Start < hits[j].Start })

	var b strings.Builder
	pos := 0
	for _, h := range hits {
		if h.Start < pos || h.Start > len(data) || h.End > len(data) || h.End < h.Start {
			continue
		}
		b.Write(data[pos:h.Start])
		b.WriteString("[REDACTED:" + string(h.Kind) + "]")
		pos = h.End
	}
	b.Write(data[pos:])
	return b.String()
}

// scanEntropy looks for runs of token-like characters (no whitespace) of at
// least entropyMinLen bytes whose Shannon entropy exceeds the threshold and
// that weren't already covered by an exact or pattern hit. This catches
// secrets the vault doesn't know about yet (freshly generated tokens echoed
// back by a tool before the user has stored them).
func (s *LeakScanner) scanEntropy(data []byte, covered []bool) []Hit {
	var hits []Hit
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		length := end - start
		if length >= s.entropyMinLen {
			allCovered := true
			for i := start; i < end; i++ {
				if i >= len(covered) || !covered[i] {
					allCovered = false
					break
				}
			}
			if !allCovered && shannonEntropy(data[start:end]) >= s.entropyThreshold {
				hits = append(hits, Hit{Kind: HitEntropy, Start: start, End: end})
			}
		}
		start = -1
	}
	for i, b := range data {
		if isTokenByte(b) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(data))
	return hits
}

func isTokenByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-' || b == '/' || b == '+' || b == '.':
		return true
	default:
		return false
	}
}

func shannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	total := float64(len(b))
	var entropy float64
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
