package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/l3ocifer/ironclaw/internal/config"
)

// Default identity-file names at the workspace root. Config may rename any
// of them; the roles stay fixed.
const (
	AgentsFile   = "AGENTS.md"
	SoulFile     = "SOUL.md"
	UserFile     = "USER.md"
	IdentityFile = "IDENTITY.md"
	ToolsFile    = "TOOLS.md"
	MemoryFile   = "MEMORY.md"
)

// WorkspaceContext is one snapshot of the identity files, loaded together
// at the start of a turn so the prompt builder works from a consistent
// view even if files change mid-turn.
type WorkspaceContext struct {
	AgentsContent   string
	SoulContent     string
	UserContent     string
	IdentityContent string
	ToolsContent    string
	MemoryContent   string

	Identity *Identity
	User     *UserProfile
}

// Identity is the agent's self-description parsed from IDENTITY.md.
type Identity struct {
	Name     string
	Creature string
	Vibe     string
	Emoji    string
}

// UserProfile is the user's profile parsed from USER.md.
type UserProfile struct {
	Name             string
	PreferredAddress string
	Pronouns         string
	Timezone         string
	Notes            string
}

// LoaderConfig names the workspace root and the identity files within it.
// Empty fields fall back to the default names.
type LoaderConfig struct {
	Root         string
	AgentsFile   string
	SoulFile     string
	UserFile     string
	IdentityFile string
	ToolsFile    string
	MemoryFile   string
}

// LoaderConfigFromConfig lifts the workspace section of the app config
// into a LoaderConfig.
func LoaderConfigFromConfig(cfg *config.Config) LoaderConfig {
	if cfg == nil {
		return LoaderConfig{}
	}
	return LoaderConfig{
		Root:         cfg.Workspace.Root,
		AgentsFile:   cfg.Workspace.AgentsFile,
		SoulFile:     cfg.Workspace.SoulFile,
		UserFile:     cfg.Workspace.UserFile,
		IdentityFile: cfg.Workspace.IdentityFile,
		ToolsFile:    cfg.Workspace.ToolsFile,
		MemoryFile:   cfg.Workspace.MemoryFile,
	}
}

func orName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// LoadWorkspace reads every identity file under cfg.Root. Missing files
// load as empty content; only a real I/O failure is an error.
func LoadWorkspace(cfg LoaderConfig) (*WorkspaceContext, error) {
	root := cfg.Root
	if root == "" {
		root = "."
	}

	ws := &WorkspaceContext{}
	for _, slot := range []struct {
		name string
		into *string
	}{
		{orName(cfg.AgentsFile, AgentsFile), &ws.AgentsContent},
		{orName(cfg.SoulFile, SoulFile), &ws.SoulContent},
		{orName(cfg.UserFile, UserFile), &ws.UserContent},
		{orName(cfg.IdentityFile, IdentityFile), &ws.IdentityContent},
		{orName(cfg.ToolsFile, ToolsFile), &ws.ToolsContent},
		{orName(cfg.MemoryFile, MemoryFile), &ws.MemoryContent},
	} {
		content, err := readOptionalFile(filepath.Join(root, slot.name))
		if err != nil {
			return nil, err
		}
		*slot.into = content
	}

	if ws.IdentityContent != "" {
		id := &Identity{}
		parseBulletFields(ws.IdentityContent, map[string]*string{
			"name":     &id.Name,
			"creature": &id.Creature,
			"vibe":     &id.Vibe,
			"emoji":    &id.Emoji,
		})
		ws.Identity = id
	}
	if ws.UserContent != "" {
		u := &UserProfile{}
		parseBulletFields(ws.UserContent, map[string]*string{
			"name":              &u.Name,
			"preferred address": &u.PreferredAddress,
			"pronouns":          &u.Pronouns,
			"timezone":          &u.Timezone,
			"notes":             &u.Notes,
		})
		ws.User = u
	}
	return ws, nil
}

// LoadMemory reads the long-term memory file. Unlike the other identity
// files, a missing memory file is an error: callers gate on session kind
// before asking for it.
func LoadMemory(root, filename string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, orName(filename, MemoryFile)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SystemPromptContext renders the persona portion of a system prompt: the
// soul file followed by whatever the identity and user profiles filled in.
func (w *WorkspaceContext) SystemPromptContext() string {
	var b strings.Builder
	write := func(line string) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}

	if w.SoulContent != "" {
		write(w.SoulContent)
	}
	if id := w.Identity; id != nil && id.Name != "" {
		write("Your name is " + id.Name + ".")
		if id.Creature != "" {
			write("You are a " + id.Creature + ".")
		}
		if id.Vibe != "" {
			write("Your vibe is " + id.Vibe + ".")
		}
		if id.Emoji != "" {
			write("Your emoji is " + id.Emoji + ".")
		}
	}
	if u := w.User; u != nil && u.Name != "" {
		address := orName(u.PreferredAddress, u.Name)
		write("You are talking to " + u.Name + " (address them as " + address + ").")
		if u.Timezone != "" {
			write("Their timezone is " + u.Timezone + ".")
		}
	}
	return b.String()
}

func readOptionalFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// parseBulletFields fills fields from "- Key: Value" (or "Key: Value")
// lines. Keys are matched case-insensitively after stripping a trailing
// "(optional)" marker, so the seeded templates parse as written.
func parseBulletFields(content string, fields map[string]*string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		key = strings.TrimSpace(strings.TrimSuffix(key, "(optional)"))
		if target, ok := fields[key]; ok {
			*target = strings.TrimSpace(value)
		}
	}
}
