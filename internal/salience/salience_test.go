package salience

import (
	"strings"
	"testing"
	"time"
)

func TestScoreCues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		role    Role
		cue     Cue
	}{
		{"question", "What database should we use here?", RoleUser, CueQuestion},
		{"error", "ERROR: database connection refused", "assistant", CueError},
		{"decision", "We will use PostgreSQL for this.", "assistant", CueDecision},
		{"file-effect", "I wrote the config file to disk.", "assistant", CueFileEffect},
		{"memory-op", "Let me remember that for later.", "assistant", CueMemoryOp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Score(tc.content, tc.role)
			found := false
			for _, c := range result.Cues {
				if c == tc.cue {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected cue %s in %v", tc.cue, result.Cues)
			}
			if result.Score <= 0 {
				t.Fatalf("expected positive score, got %f", result.Score)
			}
		})
	}
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	content := "ERROR: failed! What should we do? We will decide now. I wrote the file and deleted the directory, remember this decision forever, this is a very long message that definitely crosses the long-message character threshold because it keeps going on and on and on and on and on and on and on and on and on and on and on and on and on and on and on and on" +
		strings.Repeat(" and on", LongMessageThreshold/7) + "."
	result := Score(content, RoleUser)
	if result.Score > 1.0 {
		t.Fatalf("expected score clamped to 1.0, got %f", result.Score)
	}
	found := false
	for _, c := range result.Cues {
		if c == CueLongMessage {
			found = true
		}
	}
	if !found {
		t.Fatal("expected long-message cue")
	}
}

func TestScoreEmptyContent(t *testing.T) {
	result := Score("", "assistant")
	if result.Score != 0 {
		t.Fatalf("expected zero score for empty content, got %f", result.Score)
	}
	if len(result.Cues) != 0 {
		t.Fatalf("expected no cues for empty content, got %v", result.Cues)
	}
}

func TestPartitionBySalience(t *testing.T) {
	turns := []Turn{
		{Index: 0, Content: "hello there", Role: "assistant"},
		{Index: 1, Content: "ERROR: database connection refused", Role: "assistant"},
		{Index: 2, Content: "we will use PostgreSQL", Role: "assistant"},
	}
	keep, summarize := PartitionBySalience(turns, 0.5)
	if len(keep) != 2 {
		t.Fatalf("expected 2 kept turns, got %d", len(keep))
	}
	if len(summarize) != 1 {
		t.Fatalf("expected 1 summarized turn, got %d", len(summarize))
	}
	if keep[0].Index != 1 || keep[1].Index != 2 {
		t.Fatalf("unexpected kept indices: %v, %v", keep[0].Index, keep[1].Index)
	}
	if summarize[0].Index != 0 {
		t.Fatalf("unexpected summarized index: %v", summarize[0].Index)
	}
}

func TestRankTurns(t *testing.T) {
	turns := []Turn{
		{Index: 0, Content: "hi", Role: "assistant"},
		{Index: 1, Content: "ERROR: crash", Role: "assistant"},
		{Index: 2, Content: "what should we do?", Role: "user"},
	}
	top := RankTurns(turns, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 ranked turns, got %d", len(top))
	}
	if top[0] != 2 || top[1] != 1 {
		t.Fatalf("unexpected rank order: %v", top)
	}
}

func TestRankTurnsMaxCountExceedsLength(t *testing.T) {
	turns := []Turn{{Index: 0, Content: "hi", Role: "assistant"}}
	top := RankTurns(turns, 10)
	if len(top) != 1 {
		t.Fatalf("expected 1 ranked turn, got %d", len(top))
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if boost := RecencyBoost(now, now); boost != 1.0 {
		t.Fatalf("expected fresh turn boost of 1.0, got %f", boost)
	}
	weekOld := RecencyBoost(now.Add(-168*time.Hour), now)
	if weekOld < 0.45 || weekOld > 0.55 {
		t.Fatalf("expected week-old boost near 0.5, got %f", weekOld)
	}
	if future := RecencyBoost(now.Add(time.Hour), now); future != 1.0 {
		t.Fatalf("expected future timestamp boost of 1.0, got %f", future)
	}
}
