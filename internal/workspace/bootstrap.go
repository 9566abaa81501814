package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/l3ocifer/ironclaw/internal/config"
)

// BootstrapFile is one identity file to seed into a fresh workspace.
type BootstrapFile struct {
	Name    string
	Content string
}

// BootstrapResult reports which files a bootstrap pass wrote and which it
// left alone.
type BootstrapResult struct {
	Created []string
	Skipped []string
}

// seededContent is the starter text for each identity file, keyed by the
// file's default name. The text is a template for the user to fill in, not
// behavior: the loader parses whatever ends up in these files.
var seededContent = map[string]string{
	AgentsFile: "# AGENTS.md — Operating Instructions\n\n" +
		"This workspace is the agent's working directory.\n\n" +
		"## Boundaries\n" +
		"- Never move secrets or private data out of this workspace.\n" +
		"- Destructive actions need an explicit request.\n\n" +
		"## Habits\n" +
		"- Short answers in chat; longer output goes into files.\n" +
		"- When a request is ambiguous, ask before acting.\n" +
		"- Append notable events to daily/YYYY-MM-DD.md.\n",
	SoulFile: "# SOUL.md — Persona\n\n" +
		"- Direct, warm, and brief.\n" +
		"- Asks when unsure instead of guessing.\n" +
		"- Never streams partial replies to outside surfaces.\n",
	UserFile: "# USER.md — User Profile\n\n" +
		"- Name:\n" +
		"- Preferred address:\n" +
		"- Pronouns (optional):\n" +
		"- Timezone (optional):\n" +
		"- Notes:\n",
	IdentityFile: "# IDENTITY.md — Agent Identity\n\n" +
		"- Name:\n" +
		"- Creature:\n" +
		"- Vibe:\n" +
		"- Emoji:\n",
	ToolsFile: "# TOOLS.md — Tool Notes\n\n" +
		"Notes about local tools, conventions, and shortcuts live here.\n",
	"HEARTBEAT.md": "# HEARTBEAT.md\n\n" +
		"- Report only what is new or changed.\n" +
		"- Reply HEARTBEAT_OK when nothing needs attention.\n",
	MemoryFile: "# MEMORY.md — Long-Term Memory\n\n" +
		"Durable facts, preferences, and decisions accumulate here.\n",
}

// bootstrapOrder fixes the seeding order so results are deterministic.
var bootstrapOrder = []string{
	AgentsFile, SoulFile, UserFile, IdentityFile, ToolsFile, "HEARTBEAT.md", MemoryFile,
}

// DefaultBootstrapFiles returns the full seed set under default names.
func DefaultBootstrapFiles() []BootstrapFile {
	files := make([]BootstrapFile, 0, len(bootstrapOrder))
	for _, name := range bootstrapOrder {
		files = append(files, BootstrapFile{Name: name, Content: seededContent[name]})
	}
	return files
}

// BootstrapFilesForConfig returns the seed set with any file renames from
// the workspace config applied. Content follows the role, not the name.
func BootstrapFilesForConfig(cfg *config.Config) []BootstrapFile {
	if cfg == nil {
		return DefaultBootstrapFiles()
	}
	renames := map[string]string{
		AgentsFile:   cfg.Workspace.AgentsFile,
		SoulFile:     cfg.Workspace.SoulFile,
		UserFile:     cfg.Workspace.UserFile,
		IdentityFile: cfg.Workspace.IdentityFile,
		ToolsFile:    cfg.Workspace.ToolsFile,
		MemoryFile:   cfg.Workspace.MemoryFile,
	}
	files := make([]BootstrapFile, 0, len(bootstrapOrder))
	for _, name := range bootstrapOrder {
		target := name
		if renamed := renames[name]; renamed != "" {
			target = renamed
		}
		files = append(files, BootstrapFile{Name: target, Content: seededContent[name]})
	}
	return files
}

// EnsureWorkspaceFiles seeds files under root, creating the directory if
// needed. Existing files are skipped unless overwrite is set; the result
// lists both outcomes by absolute path.
func EnsureWorkspaceFiles(root string, files []BootstrapFile, overwrite bool) (BootstrapResult, error) {
	var result BootstrapResult
	base := strings.TrimSpace(root)
	if base == "" {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return result, fmt.Errorf("create workspace dir: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			continue
		}
		path := filepath.Join(base, name)
		if !overwrite {
			switch _, err := os.Stat(path); {
			case err == nil:
				result.Skipped = append(result.Skipped, path)
				continue
			case !os.IsNotExist(err):
				return result, fmt.Errorf("stat %s: %w", path, err)
			}
		}
		if err := os.WriteFile(path, []byte(file.Content), 0o644); err != nil {
			return result, fmt.Errorf("write %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}
	return result, nil
}
