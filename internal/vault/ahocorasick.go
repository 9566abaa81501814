package vault

// ahoCorasick is a hand-rolled multi-pattern substring automaton. No
// Aho-Corasick implementation appears anywhere in the retrieved example
// corpus (see DESIGN.md), so this is built directly against Aho & Corasick's
// original goto/fail/output construction rather than adopting a generic
// string-search library that doesn't fit the "rebuild once per vault
// mutation, scan many times" shape this package needs.
type ahoCorasick struct {
	children   []map[byte]int // node -> byte -> child node
	fail       []int          // node -> failure link
	output     [][]int        // node -> pattern indices terminating here
	patternLen []int          // pattern index -> length, for recovering match start offsets
}

// acMatch is a single pattern occurrence found by Search.
type acMatch struct {
	PatternIndex int
	Start, End   int
}

func buildAhoCorasick(patterns []string) *ahoCorasick {
	a := &ahoCorasick{
		children:   []map[byte]int{{}},
		fail:       []int{0},
		output:     [][]int{nil},
		patternLen: make([]int, len(patterns)),
	}
	if len(patterns) == 0 {
		return a
	}

	for pi, pattern := range patterns {
		a.patternLen[pi] = len(pattern)
		node := 0
		for i := 0; i < len(pattern); i++ {
			b := pattern[i]
			next, ok := a.children[node][b]
			if !ok {
				a.children = append(a.children, map[byte]int{})
				a.fail = append(a.fail, 0)
				a.output = append(a.output, nil)
				next = len(a.children) - 1
				a.children[node][b] = next
			}
			node = next
		}
		a.output[node] = append(a.output[node], pi)
	}

	// BFS to compute failure links and merge output sets along them, the
	// standard Aho-Corasick automaton construction.
	queue := make([]int, 0, len(a.children))
	for _, child := range a.children[0] {
		a.fail[child] = 0
		queue = append(queue, child)
	}
	for qi := 0; qi < len(queue); qi++ {
		node := queue[qi]
		for b, child := range a.children[node] {
			queue = append(queue, child)

			f := a.fail[node]
			for f != 0 {
				if _, ok := a.children[f][b]; ok {
					break
				}
				f = a.fail[f]
			}
			if next, ok := a.children[f][b]; ok && next != child {
				f = next
			}
			a.fail[child] = f
			a.output[child] = append(append([]int(nil), a.output[child]...), a.output[f]...)
		}
	}
	return a
}

// Search walks text once, following goto/fail transitions, and reports
// every pattern occurrence (overlaps included). Start offsets are recovered
// from each matched pattern's known length, since the trie itself has no
// parent pointers.
func (a *ahoCorasick) Search(text []byte) []acMatch {
	if len(a.children) <= 1 {
		return nil
	}
	var matches []acMatch
	node := 0
	for i, b := range text {
		for node != 0 {
			if _, ok := a.children[node][b]; ok {
				break
			}
			node = a.fail[node]
		}
		if next, ok := a.children[node][b]; ok {
			node = next
		} else {
			node = 0
		}
		for _, pi := range a.output[node] {
			end := i + 1
			matches = append(matches, acMatch{PatternIndex: pi, Start: end - a.patternLen[pi], End: end})
		}
	}
	return matches
}
