package compaction

import (
	"strings"
	"testing"
)

func TestPipelinePreservesKeyMomentsVerbatim(t *testing.T) {
	var messages []*Message
	for i := 0; i < 24; i++ {
		messages = append(messages,
			&Message{Role: "user", Content: "please check the status of the deployment", Timestamp: int64(i * 2)},
			&Message{Role: "assistant", Content: "the deployment is progressing normally", Timestamp: int64(i*2 + 1)},
		)
	}
	messages = append(messages,
		&Message{Role: "assistant", Content: "ERROR: database connection refused", Timestamp: 1000},
		&Message{Role: "user", Content: "we will use PostgreSQL going forward", Timestamp: 1001},
	)

	result := RunPipeline(messages, 0.5)

	if len(result.KeptMessages) != 2 {
		t.Fatalf("expected exactly 2 pinned key moments, got %d: %+v", len(result.KeptMessages), result.KeptMessages)
	}

	var sawError, sawDecision bool
	for _, m := range result.KeptMessages {
		if m.Content != "ERROR: database connection refused" && m.Content != "we will use PostgreSQL going forward" {
			t.Fatalf("unexpected pinned content (must match source byte-for-byte): %q", m.Content)
		}
		if m.Content == "ERROR: database connection refused" {
			sawError = true
		}
		if m.Content == "we will use PostgreSQL going forward" {
			sawDecision = true
		}
	}
	if !sawError || !sawDecision {
		t.Fatalf("expected both the error turn and the decision turn to be pinned, got %+v", result.KeptMessages)
	}

	doc := result.Document()
	if !containsAll(doc, "ERROR: database connection refused", "we will use PostgreSQL going forward", "Key Moments") {
		t.Fatalf("expected the assembled document to contain both key moments verbatim, got:\n%s", doc)
	}
}

func TestHarvestToolFailuresAndFileOperations(t *testing.T) {
	messages := []*Message{
		{Role: "tool", Content: "permission denied", ToolResults: `{"error":"permission denied writing /etc/passwd"}`},
		{Role: "assistant", Content: "wrote the file /tmp/report.md"},
		{Role: "assistant", Content: "nothing interesting happened here"},
	}
	failures := HarvestToolFailures(messages)
	if len(failures) != 1 {
		t.Fatalf("expected 1 harvested tool failure, got %d: %v", len(failures), failures)
	}
	ops := HarvestFileOperations(messages)
	if len(ops) != 1 {
		t.Fatalf("expected 1 harvested file operation, got %d: %v", len(ops), ops)
	}
}

func TestSummaryWithTailsOmitsKeyMoments(t *testing.T) {
	result := PipelineResult{
		Summary:        "## Facts\n- something happened\n",
		ToolFailures:   []string{"disk full"},
		FileOperations: []string{"wrote /tmp/x"},
		KeptMessages:   []*Message{{Role: "user", Content: "MARKER-PINNED-TURN"}},
	}
	tails := result.SummaryWithTails()
	if containsAll(tails, "MARKER-PINNED-TURN") {
		t.Fatal("SummaryWithTails must not duplicate pinned-turn content")
	}
	if !containsAll(tails, "disk full", "wrote /tmp/x") {
		t.Fatalf("expected both tails present, got:\n%s", tails)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
