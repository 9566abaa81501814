// Command ironclaw runs the trust-and-execution core behind a minimal
// terminal front-end: one line in, one agent turn out. Richer channels
// (HTTP, messengers) plug into the same internal packages; this binary
// exists so the core can be exercised end to end and so deployments have a
// conventional entrypoint with the documented exit codes.
//
// Exit codes: 0 success, 1 recoverable runtime error, 2 configuration
// error, 3 integrity violation fatal at startup.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/l3ocifer/ironclaw/internal/agentloop"
	"github.com/l3ocifer/ironclaw/internal/builtintools"
	"github.com/l3ocifer/ironclaw/internal/config"
	"github.com/l3ocifer/ironclaw/internal/guard"
	"github.com/l3ocifer/ironclaw/internal/heartbeat"
	"github.com/l3ocifer/ironclaw/internal/integrity"
	"github.com/l3ocifer/ironclaw/internal/learning"
	"github.com/l3ocifer/ironclaw/internal/llmclient"
	"github.com/l3ocifer/ironclaw/internal/obslog"
	"github.com/l3ocifer/ironclaw/internal/policy"
	"github.com/l3ocifer/ironclaw/internal/registry"
	"github.com/l3ocifer/ironclaw/internal/taskgraph"
	"github.com/l3ocifer/ironclaw/internal/turnqueue"
	"github.com/l3ocifer/ironclaw/internal/vault"
	"github.com/l3ocifer/ironclaw/internal/workspace"
)

const (
	exitOK        = 0
	exitRuntime   = 1
	exitConfig    = 2
	exitIntegrity = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to the YAML config file (defaults apply when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfig
	}

	log := obslog.NewLogger(obslog.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	ctx := context.Background()

	if cfg.Vault.Enabled {
		if v, err := vault.Open(ctx, "ironclaw", "vault"); err == nil {
			log.AttachScrubber(vault.NewLeakScanner(v, nil).Scrub)
		} else {
			log.Warn(ctx, "vault unavailable, log scrubbing limited to built-in patterns", "error", err)
		}
	}

	if cfg.Workspace.BootstrapFiles {
		if _, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Root, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
			fmt.Fprintln(os.Stderr, "workspace bootstrap failed:", err)
			return exitRuntime
		}
	}

	monitor, code := startupIntegrity(ctx, cfg, log)
	if code != exitOK {
		return code
	}

	graph := taskgraph.NewGraph(taskStore(cfg))
	learnings := learning.NewMemoryStore()
	builtins := builtintools.New(graph, learnings, cfg.Workspace.Root, cfg.Workspace.MemoryFile)

	reg := registry.New()
	for _, name := range builtintools.Names {
		if err := reg.Register(registry.Descriptor{Name: name, Source: registry.SourceBuiltIn}); err != nil {
			fmt.Fprintln(os.Stderr, "tool registration failed:", err)
			return exitConfig
		}
	}

	var cmdGuard *guard.Guard
	if cfg.Guard.Enabled {
		cmdGuard = guard.New(guard.LoadPacks(cfg.Guard.Packs),
			guard.WithFailClosed(cfg.Guard.FailClosed),
			guard.WithTimeout(cfg.Guard.EvaluateTimeout))
	}

	client, err := llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "llm client error:", err)
		return exitConfig
	}

	dispatcher := &agentloop.Dispatcher{
		Registry:   reg,
		Resolver:   policy.NewResolver(),
		ToolPolicy: &policy.Policy{Profile: policy.ProfileFull},
		Guard:      cmdGuard,
		Approvals:  agentloop.NewApprovalChecker(&agentloop.ApprovalPolicy{DefaultDecision: agentloop.ApprovalAllowed}),
		BuiltIns:   builtins,
	}

	loopCfg := agentloop.DefaultConfig()
	loopCfg.Model = cfg.LLM.DefaultModel
	loopCfg.ContextWindow = cfg.Compaction.ContextWindowTokens
	loopCfg.DailyResetHour = cfg.Workspace.DailyResetHour
	loopCfg.Client = client
	loopCfg.Dispatcher = dispatcher
	loopCfg.Prompts = agentloop.NewPromptBuilder(cfg.Workspace.Root, cfg.Workspace.MemoryFile, learnings, 10)
	loopCfg.Integrity = monitor
	loopCfg.Log = log
	loopCfg.WorkspaceRoot = cfg.Workspace.Root
	loopCfg.Writer = workspace.NewDedupWriter()
	loopCfg.ToolSchemas = builtintools.Schemas()

	loop, err := agentloop.New(loopCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agent loop error:", err)
		return exitConfig
	}

	agentID := cfg.Agent.ID
	if agentID == "" {
		agentID = "ironclaw"
	}

	if err := loop.Boot(ctx, agentID); err != nil {
		log.Warn(ctx, "boot checklist failed", "error", err)
	}

	if cfg.Heartbeat.Enabled {
		stopHeartbeat := startHeartbeat(ctx, cfg, monitor, log)
		defer stopHeartbeat()
	}

	ws, err := workspace.LoadWorkspace(workspace.LoaderConfigFromConfig(cfg))
	if err != nil {
		fmt.Fprintln(os.Stderr, "workspace load failed:", err)
		return exitRuntime
	}

	return repl(ctx, loop, ws, agentID)
}

// loadConfig resolves the effective config: file (when given), environment
// overlay, then validation.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startupIntegrity loads (or establishes) the workspace baseline and runs
// the startup scan. A non-restorable violation at startup is fatal with
// exit code 3: the identity files this process is about to trust have been
// altered.
func startupIntegrity(ctx context.Context, cfg *config.Config, log *obslog.Logger) (*integrity.Monitor, int) {
	if !cfg.Integrity.Enabled {
		return nil, exitOK
	}

	auditPath := cfg.Integrity.AuditLogPath
	if auditPath == "" {
		auditPath = filepath.Join(cfg.Workspace.Root, ".ironclaw-audit.jsonl")
	}
	auditLog, err := integrity.OpenAuditLog(auditPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit log error:", err)
		return nil, exitRuntime
	}

	monitor := integrity.New(cfg.Workspace.Root, integrity.Mode(cfg.Integrity.Mode), cfg.Integrity.IgnoreGlobs, auditLog)
	baselinePath := filepath.Join(cfg.Workspace.Root, ".ironclaw-baseline.json")

	if _, statErr := os.Stat(baselinePath); statErr == nil {
		if err := monitor.LoadBaseline(baselinePath); err != nil {
			fmt.Fprintln(os.Stderr, "baseline load error:", err)
			return nil, exitRuntime
		}
		changes, err := monitor.Scan(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "integrity scan error:", err)
			return nil, exitRuntime
		}
		for _, change := range changes {
			if !change.Restored {
				fmt.Fprintf(os.Stderr, "integrity violation at startup: %s (%s)\n", change.Path, change.Kind)
				return nil, exitIntegrity
			}
			log.Warn(ctx, "integrity violation restored at startup", "path", change.Path)
		}
	} else {
		if err := monitor.Baseline(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "baseline error:", err)
			return nil, exitRuntime
		}
		if err := monitor.SaveBaseline(baselinePath); err != nil {
			fmt.Fprintln(os.Stderr, "baseline save error:", err)
			return nil, exitRuntime
		}
	}
	return monitor, exitOK
}

func taskStore(cfg *config.Config) taskgraph.Store {
	dsn := cfg.TaskGraph.DSN
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err := taskgraph.NewPostgresStore(dsn, cfg.TaskGraph)
		if err == nil {
			return store
		}
		fmt.Fprintln(os.Stderr, "postgres store unavailable, falling back to memory:", err)
	case dsn != "":
		store, err := taskgraph.NewSQLiteStore(dsn)
		if err == nil {
			return store
		}
		fmt.Fprintln(os.Stderr, "sqlite store unavailable, falling back to memory:", err)
	}
	return taskgraph.NewMemoryStore()
}

func startHeartbeat(ctx context.Context, cfg *config.Config, monitor *integrity.Monitor, log *obslog.Logger) func() {
	sched := turnqueue.New(2)
	sched.Start(ctx)
	p := heartbeat.NewPeriodic(sched, heartbeat.PeriodicConfig{
		UserID:   "local",
		Interval: cfg.Heartbeat.Interval,
		Monitor:  monitor,
		Turn: func(ctx context.Context) (string, error) {
			// The terminal front-end has no background LLM budget; the
			// integrity scan above this turn is the tick's substance here.
			return heartbeat.OKToken, nil
		},
		Notify: func(ctx context.Context, reply string) {
			log.Warn(ctx, "heartbeat notification", "reply", reply)
		},
	})
	p.Start(ctx)
	return func() {
		p.Stop()
		sched.Stop()
	}
}

func repl(ctx context.Context, loop *agentloop.Loop, ws *workspace.WorkspaceContext, agentID string) int {
	thread := &agentloop.Thread{
		ID:          "terminal-" + time.Now().Format("20060102-150405"),
		SessionKind: agentloop.SessionMain,
		ChannelID:   "terminal",
		AgentID:     agentID,
		CreatedAt:   time.Now(),
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fmt.Println("ironclaw ready (ctrl-d to exit)")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return exitOK
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		inbound := agentloop.Message{
			ID:        fmt.Sprintf("in-%d", time.Now().UnixNano()),
			Role:      llmclient.RoleUser,
			Content:   line,
			CreatedAt: time.Now(),
		}
		out, err := loop.Run(ctx, ws, thread, inbound, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn failed:", err)
			return exitRuntime
		}
		thread = out
		if len(thread.Messages) > 0 {
			last := thread.Messages[len(thread.Messages)-1]
			fmt.Println(last.Content)
		}
	}
}
