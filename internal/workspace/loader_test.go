package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeWorkspaceFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadWorkspaceParsesIdentityAndUser(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, SoulFile, "stay concise")
	writeWorkspaceFile(t, root, IdentityFile,
		"# IDENTITY.md\n\n- Name: Clawra\n- Creature: crab\n- Vibe: calm\n- Emoji: 🦀\n")
	writeWorkspaceFile(t, root, UserFile,
		"- Name: Sam\n- Preferred address: boss\n- Timezone (optional): UTC\n")
	writeWorkspaceFile(t, root, MemoryFile, "remember the deploy key rotation")

	ws, err := LoadWorkspace(LoaderConfig{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	if ws.Identity == nil || ws.Identity.Name != "Clawra" || ws.Identity.Creature != "crab" {
		t.Fatalf("identity not parsed: %+v", ws.Identity)
	}
	if ws.User == nil || ws.User.Name != "Sam" || ws.User.PreferredAddress != "boss" || ws.User.Timezone != "UTC" {
		t.Fatalf("user profile not parsed: %+v", ws.User)
	}
	if ws.MemoryContent != "remember the deploy key rotation" {
		t.Fatalf("memory not loaded: %q", ws.MemoryContent)
	}
}

func TestLoadWorkspaceToleratesMissingFiles(t *testing.T) {
	ws, err := LoadWorkspace(LoaderConfig{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("missing files must not error: %v", err)
	}
	if ws.SoulContent != "" || ws.Identity != nil || ws.User != nil {
		t.Fatalf("empty workspace should load empty: %+v", ws)
	}
}

func TestLoadWorkspaceHonorsRenames(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "persona.md", "renamed soul")

	ws, err := LoadWorkspace(LoaderConfig{Root: root, SoulFile: "persona.md"})
	if err != nil {
		t.Fatal(err)
	}
	if ws.SoulContent != "renamed soul" {
		t.Fatalf("renamed soul file not loaded: %q", ws.SoulContent)
	}
}

func TestSystemPromptContextComposesSections(t *testing.T) {
	ws := &WorkspaceContext{
		SoulContent: "be kind",
		Identity:    &Identity{Name: "Clawra", Creature: "crab"},
		User:        &UserProfile{Name: "Sam", Timezone: "UTC"},
	}
	prompt := ws.SystemPromptContext()
	for _, want := range []string{"be kind", "Your name is Clawra.", "You are a crab.", "talking to Sam", "UTC"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSystemPromptContextFallsBackToNameAsAddress(t *testing.T) {
	ws := &WorkspaceContext{User: &UserProfile{Name: "Sam"}}
	if !strings.Contains(ws.SystemPromptContext(), "address them as Sam") {
		t.Fatal("missing preferred address should fall back to the name")
	}
}

func TestParseBulletFieldsStripsOptionalMarker(t *testing.T) {
	var pronouns string
	parseBulletFields("- Pronouns (optional): they/them", map[string]*string{"pronouns": &pronouns})
	if pronouns != "they/them" {
		t.Fatalf("optional marker not stripped, got %q", pronouns)
	}
}

func TestLoadMemoryRequiresTheFile(t *testing.T) {
	if _, err := LoadMemory(t.TempDir(), ""); err == nil {
		t.Fatal("missing memory file should surface an error")
	}
	root := t.TempDir()
	writeWorkspaceFile(t, root, MemoryFile, "facts")
	got, err := LoadMemory(root, "")
	if err != nil || got != "facts" {
		t.Fatalf("got %q, %v", got, err)
	}
}
