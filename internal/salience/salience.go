// Package salience scores conversation turns for importance so the
// compaction pipeline knows which ones to pin verbatim and which are safe
// to summarize away. Every function here is pure: no I/O, no shared state.
package salience

import (
	"regexp"
	"strings"
	"time"
)

// Cue names a single signal the scorer detected in a turn's content.
type Cue string

const (
	CueQuestion    Cue = "question"
	CueError       Cue = "error"
	CueDecision    Cue = "decision"
	CueFileEffect  Cue = "file-effect"
	CueMemoryOp    Cue = "memory-op"
	CueUserRole    Cue = "user-role"
	CueLongMessage Cue = "long-message"
)

// weights assigns each cue its contribution; scores are summed then
// clamped to [0, 1].
var weights = map[Cue]float64{
	CueQuestion:    0.4,
	CueError:       0.6,
	CueDecision:    0.4,
	CueFileEffect:  0.5,
	CueMemoryOp:    0.3,
	CueUserRole:    0.3,
	CueLongMessage: 0.2,
}

// LongMessageThreshold is the character count above which a message earns
// the long-message cue.
const LongMessageThreshold = 800

var (
	questionRe   = regexp.MustCompile(`\?\s*$|^\s*(why|how|what|when|where|who|which|could you|can you|would you)\b`)
	errorRe      = regexp.MustCompile(`(?i)\b(error|fail(ed|ure)?|exception|panic|traceback|crash(ed)?|denied|refused|timeout|timed out)\b`)
	decisionRe   = regexp.MustCompile(`(?i)\b(we(’|')?ll|we will|let'?s|decided to|going with|i'?ll use|we should use|the plan is|agreed to)\b`)
	fileEffectRe = regexp.MustCompile(`(?i)\b(wrote|created|deleted|removed|renamed|moved|overwrote|saved)\s+(the\s+)?(file|directory|dir|path)?\b`)
	memoryOpRe   = regexp.MustCompile(`(?i)\b(remember|recall|memory|learned|noted for later|long-term)\b`)
)

// Role is the minimal role distinction the scorer cares about; it mirrors
// ironmodels.Role without importing it, keeping this package dependency-free.
type Role string

const RoleUser Role = "user"

// Result is the outcome of scoring a single turn.
type Result struct {
	Score float64
	Cues  []Cue
}

// Score evaluates content authored by role and returns its salience.
func Score(content string, role Role) Result {
	var total float64
	var cues []Cue

	add := func(c Cue) {
		cues = append(cues, c)
		total += weights[c]
	}

	if questionRe.MatchString(content) {
		add(CueQuestion)
	}
	if errorRe.MatchString(content) {
		add(CueError)
	}
	if decisionRe.MatchString(content) {
		add(CueDecision)
	}
	if fileEffectRe.MatchString(content) {
		add(CueFileEffect)
	}
	if memoryOpRe.MatchString(content) {
		add(CueMemoryOp)
	}
	if role == RoleUser {
		add(CueUserRole)
	}
	if len([]rune(strings.TrimSpace(content))) > LongMessageThreshold {
		add(CueLongMessage)
	}

	if total > 1 {
		total = 1
	}
	if total < 0 {
		total = 0
	}
	return Result{Score: total, Cues: cues}
}

// Turn is the minimal shape the auxiliary operations need: just enough to
// score and order without depending on ironmodels or any thread type.
type Turn struct {
	Index     int
	Content   string
	Role      Role
	Timestamp time.Time
}

// PartitionBySalience splits turns into those scoring at or above threshold
// (kept verbatim) and the remainder (safe to summarize), preserving order
// within each group.
func PartitionBySalience(turns []Turn, threshold float64) (keep, summarize []Turn) {
	for _, t := range turns {
		if Score(t.Content, t.Role).Score >= threshold {
			keep = append(keep, t)
		} else {
			summarize = append(summarize, t)
		}
	}
	return keep, summarize
}

// RankTurns returns the indices of the maxCount highest-scoring turns,
// ordered by descending score and then by original index for stability.
func RankTurns(turns []Turn, maxCount int) []int {
	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(turns))
	for i, t := range turns {
		ranked[i] = scored{idx: t.Index, score: Score(t.Content, t.Role).Score}
	}
	// Insertion sort: turn counts per compaction run are small (tens to low
	// hundreds), and stability matters more here than asymptotic speed.
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && (ranked[j-1].score < ranked[j].score ||
			(ranked[j-1].score == ranked[j].score && ranked[j-1].idx > ranked[j].idx)) {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
	if maxCount > len(ranked) {
		maxCount = len(ranked)
	}
	out := make([]int, maxCount)
	for i := 0; i < maxCount; i++ {
		out[i] = ranked[i].idx
	}
	return out
}

// RecencyBoost returns a decay multiplier in (0, 1] that favors turns
// closer to now. Age is measured in hours and decays as 1/(1+age/168h), so a
// turn from a week ago is weighted half of a fresh one.
func RecencyBoost(timestamp, now time.Time) float64 {
	age := now.Sub(timestamp).Hours()
	if age <= 0 {
		return 1
	}
	const halfLifeHours = 168.0
	boost := 1.0 / (1.0 + age/halfLifeHours)
	if boost <= 0 {
		return 0.0001
	}
	return boost
}
