package integrity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBaselineThenCheckOnUnchangedFilesReportsNoViolations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "SOUL.md"), "I am the agent.")

	m := New(root, ModeAlert, nil, nil)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}
	changes, err := m.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes on unmodified workspace, got %v", changes)
	}
}

func TestBaselineSerialiseLoadCheckRoundTripReportsNoViolations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "SOUL.md"), "I am the agent.")

	m := New(root, ModeAlert, nil, nil)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}
	baselinePath := filepath.Join(t.TempDir(), "baseline.json")
	if err := m.SaveBaseline(baselinePath); err != nil {
		t.Fatal(err)
	}

	reloaded := New(root, ModeAlert, nil, nil)
	if err := reloaded.LoadBaseline(baselinePath); err != nil {
		t.Fatal(err)
	}
	changes, err := reloaded.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes after baseline round trip, got %v", changes)
	}
}

func TestScanDetectsAndRestoresTamperedFile(t *testing.T) {
	root := t.TempDir()
	personaPath := filepath.Join(root, "SOUL.md")
	writeFile(t, personaPath, "I am the agent.")

	log := &AuditLog{path: filepath.Join(t.TempDir(), "audit.json")}
	m := New(root, ModeRestore, nil, log)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeFile(t, personaPath, "I am someone else now.")

	changes, err := m.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected exactly one violation, got %d: %v", len(changes), changes)
	}
	v := changes[0]
	if v.Kind != ChangeModified {
		t.Fatalf("expected ChangeModified, got %s", v.Kind)
	}
	if !v.Restored {
		t.Fatal("expected mode Restore to restore the tampered file")
	}

	restored, err := os.ReadFile(personaPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "I am the agent." {
		t.Fatalf("expected persona file content to be restored, got %q", restored)
	}

	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one hash-chained audit entry, got %d", len(entries))
	}
	ok, badIndex := log.Verify()
	if !ok {
		t.Fatalf("expected audit chain to verify, broke at index %d", badIndex)
	}
}

func TestScanInAlertModeDoesNotRestore(t *testing.T) {
	root := t.TempDir()
	personaPath := filepath.Join(root, "SOUL.md")
	writeFile(t, personaPath, "I am the agent.")

	m := New(root, ModeAlert, nil, nil)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, personaPath, "tampered")

	changes, err := m.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Restored {
		t.Fatalf("expected one unrestored change in ModeAlert, got %v", changes)
	}
	data, err := os.ReadFile(personaPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tampered" {
		t.Fatal("ModeAlert must not modify the file on disk")
	}
}

func TestScanIgnoresMatchedGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "SOUL.md"), "persona")
	writeFile(t, filepath.Join(root, "scratch.tmp"), "v1")

	m := New(root, ModeAlert, []string{"*.tmp"}, nil)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "scratch.tmp"), "v2")

	changes, err := m.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected ignored glob to suppress the change, got %v", changes)
	}
}

func TestScanWithoutBaselineFails(t *testing.T) {
	root := t.TempDir()
	m := New(root, ModeAlert, nil, nil)
	if _, err := m.Scan(context.Background()); err == nil {
		t.Fatal("expected an error scanning before any baseline was established")
	}
}

func TestScanDetectsAddedAndRemovedFiles(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.md")
	remove := filepath.Join(root, "remove.md")
	writeFile(t, keep, "keep")
	writeFile(t, remove, "remove")

	m := New(root, ModeAlert, nil, nil)
	if err := m.Baseline(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(remove); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "new.md"), "new")

	changes, err := m.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var sawAdded, sawRemoved bool
	for _, c := range changes {
		switch c.Kind {
		case ChangeAdded:
			sawAdded = true
		case ChangeRemoved:
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Fatalf("expected both an added and a removed change, got %v", changes)
	}
}
