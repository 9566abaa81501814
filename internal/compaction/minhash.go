package compaction

import (
	"strings"
)

// No MinHash library appears anywhere in the retrieval corpus (pack
// repositories pull in hashing libraries for checksums and HMACs, never for
// similarity estimation), so this is hand-rolled, same precedent as the
// Aho-Corasick leak-scanner automaton.

const (
	shingleSize   = 5 // characters per shingle
	minhashCount  = 32
	minhashSeedA  = uint64(0x9E3779B97F4A7C15)
	minhashSeedB  = uint64(0xC2B2AE3D27D4EB4F)
	dedupJaccard  = 0.85 // collapse messages at or above this similarity
)

// shingles returns the set of overlapping character n-grams of s.
func shingles(s string) map[string]struct{} {
	s = strings.ToLower(s)
	out := make(map[string]struct{})
	if len(s) < shingleSize {
		if s != "" {
			out[s] = struct{}{}
		}
		return out
	}
	for i := 0; i+shingleSize <= len(s); i++ {
		out[s[i:i+shingleSize]] = struct{}{}
	}
	return out
}

func fnv1a(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// minhashSignature computes a minhashCount-length signature over s's
// shingle set using independent linear hash permutations of a single FNV
// base hash (cheap and collision-adequate at this scale).
func minhashSignature(s string) []uint64 {
	sig := make([]uint64, minhashCount)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for shingle := range shingles(s) {
		base := fnv1a(shingle)
		for i := 0; i < minhashCount; i++ {
			seed := minhashSeedA*uint64(i+1) ^ minhashSeedB
			h := base ^ seed
			h ^= h >> 33
			h *= 0xff51afd7ed558ccd
			h ^= h >> 33
			if h < sig[i] {
				sig[i] = h
			}
		}
	}
	return sig
}

// estimateJaccard estimates Jaccard similarity between two minhash
// signatures as the fraction of matching slots.
func estimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// DeduplicateMessages collapses near-duplicate messages (Jaccard similarity
// at or above dedupJaccard), retaining the earliest occurrence of each
// cluster and preserving original order.
func DeduplicateMessages(messages []*Message) []*Message {
	type entry struct {
		msg *Message
		sig []uint64
	}
	var kept []entry
	out := make([]*Message, 0, len(messages))

	for _, m := range messages {
		if m == nil {
			continue
		}
		sig := minhashSignature(m.Content)
		duplicate := false
		for _, k := range kept {
			if estimateJaccard(sig, k.sig) >= dedupJaccard {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, entry{msg: m, sig: sig})
		out = append(out, m)
	}
	return out
}

// DeduplicationStats reports how many messages a DeduplicateMessages call
// would collapse, for logging/telemetry without mutating anything.
func DeduplicationStats(messages []*Message) (total, kept int) {
	result := DeduplicateMessages(messages)
	return len(messages), len(result)
}
