package guard

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSegmentsSplitsPipelineAndChainOperators(t *testing.T) {
	parts := segments("echo safe && rm -rf / ; ls | grep foo")
	want := []string{"rm -rf /", "ls", "grep foo"}
	for _, w := range want {
		found := false
		for _, p := range parts {
			if p == w {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected segment %q in %v", w, parts)
		}
	}
}

func TestSegmentsExtractsCommandSubstitution(t *testing.T) {
	parts := segments("echo $(cat /etc/passwd)")
	found := false
	for _, p := range parts {
		if p == "cat /etc/passwd" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected $(...) body extracted, got %v", parts)
	}
}

func TestSegmentsExtractsBacktickSubstitution(t *testing.T) {
	parts := segments("echo `whoami`")
	found := false
	for _, p := range parts {
		if p == "whoami" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected backtick body extracted, got %v", parts)
	}
}

func TestSegmentsExtractsInlineScriptBody(t *testing.T) {
	parts := segments(`python3 -c "shutil.rmtree('/data')"`)
	found := false
	for _, p := range parts {
		if strings.Contains(p, "shutil.rmtree") && !strings.Contains(p, "python3") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected inline script body extracted on its own, got %v", parts)
	}
}

func TestSegmentsExtractsHeredocBody(t *testing.T) {
	cmd := "bash <<'EOF'\nrm -rf /\nEOF"
	parts := segments(cmd)
	found := false
	for _, p := range parts {
		if p == "rm -rf /" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected heredoc body extracted, got %v", parts)
	}
}

func TestEvaluateCatchesDestructiveCommandHiddenInPipeline(t *testing.T) {
	g := New(LoadPacks(AllPackNames()), WithTimeout(time.Second))
	v, err := g.Evaluate(context.Background(), "echo building && rm -rf / && echo done")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Blocked || v.PatternID != "posix.rm_rf_root" {
		t.Fatalf("expected rm -rf / inside a chained command to be blocked, got %+v", v)
	}
}

func TestEvaluateCatchesInlineScriptViaSegmentWalk(t *testing.T) {
	g := New(LoadPacks(AllPackNames()), WithTimeout(time.Second))
	v, err := g.Evaluate(context.Background(), `python3 -c "import os; os.remove('/etc/passwd')"`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Blocked || v.PatternID != "inline.python_destructive_call" {
		t.Fatalf("expected inline python os.remove to be blocked, got %+v", v)
	}
}
