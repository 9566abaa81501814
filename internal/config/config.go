package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for the ironclaw runtime.
type Config struct {
	// Version is the config schema version; Load rejects files declaring
	// one this build doesn't read.
	Version int `yaml:"version"`

	Agent      AgentConfig      `yaml:"agent"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Identity   IdentityConfig   `yaml:"identity"`
	LLM        LLMConfig        `yaml:"llm"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Guard      GuardConfig      `yaml:"guard"`
	Integrity  IntegrityConfig  `yaml:"integrity"`
	Vault      VaultConfig      `yaml:"vault"`
	Compaction CompactionConfig `yaml:"compaction"`
	TaskGraph  TaskGraphConfig  `yaml:"task_graph"`
	Logging    LoggingConfig    `yaml:"logging"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
}

// WorkspaceConfig configures the working directory the agent operates in.
type WorkspaceConfig struct {
	Root           string   `yaml:"root"`
	BootstrapFiles bool     `yaml:"bootstrap_files"`
	ProtectedPaths []string `yaml:"protected_paths"`

	// DailyResetHour, when >= 0, is the local hour (0-23) at which the
	// agent loop saves the active thread to a session snapshot and starts
	// a fresh one. -1 disables the daily reset.
	DailyResetHour int `yaml:"daily_reset_hour"`

	// AgentsFile, SoulFile, UserFile, IdentityFile, ToolsFile, and MemoryFile
	// override the default bootstrap file names (AGENTS.md, SOUL.md, ...).
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// IdentityConfig points at the identity markdown file describing the agent's persona.
type IdentityConfig struct {
	File string `yaml:"file"`
}

// LLMConfig configures the model client used to drive the agent loop.
type LLMConfig struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"api_key"`
	DefaultModel   string        `yaml:"default_model"`
	BaseURL        string        `yaml:"base_url"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SandboxConfig configures the capability-scoped bytecode sandbox.
type SandboxConfig struct {
	PoolSize        int           `yaml:"pool_size"`
	MaxPoolSize     int           `yaml:"max_pool_size"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	FuelLimit       uint64        `yaml:"fuel_limit"`
	MemoryPagesMax  uint32        `yaml:"memory_pages_max"`
	NetworkEnabled  bool          `yaml:"network_enabled"`
	AllowedHosts    []string      `yaml:"allowed_hosts"`
	WorkspaceAccess string        `yaml:"workspace_access"` // none | ro | rw
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// GuardConfig configures the destructive-command guard.
type GuardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Packs           []string      `yaml:"packs"`
	FailClosed      bool          `yaml:"fail_closed"`
	EvaluateTimeout time.Duration `yaml:"evaluate_timeout"`
}

// IntegrityConfig configures the workspace integrity monitor.
type IntegrityConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	Mode         string        `yaml:"mode"` // restore | alert | ignore
	IgnoreGlobs  []string      `yaml:"ignore_globs"`
	AuditLogPath string        `yaml:"audit_log_path"`
}

// VaultConfig configures credential storage and the secret-leak scanner.
type VaultConfig struct {
	Enabled       bool   `yaml:"enabled"`
	StorePath     string `yaml:"store_path"`
	KeychainEntry string `yaml:"keychain_entry"`
	ScanOutbound  bool   `yaml:"scan_outbound"`
}

// CompactionConfig configures the context-compaction pipeline.
type CompactionConfig struct {
	ContextWindowTokens int     `yaml:"context_window_tokens"`
	TargetContextShare  float64 `yaml:"target_context_share"`
	EnableDedup         bool    `yaml:"enable_dedup"`
	EnableDictionary    bool    `yaml:"enable_dictionary"`
	EnablePatternRLE    bool    `yaml:"enable_pattern_rle"`
}

// TaskGraphConfig configures the DAG task store.
type TaskGraphConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HeartbeatConfig configures the periodic self-check job.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	switch c.Sandbox.WorkspaceAccess {
	case "", "none", "ro", "rw":
	default:
		return fmt.Errorf("sandbox.workspace_access must be one of none, ro, rw")
	}
	switch c.Integrity.Mode {
	case "", "restore", "alert", "ignore":
	default:
		return fmt.Errorf("integrity.mode must be one of restore, alert, ignore")
	}
	switch c.Agent.RoutingProfile {
	case "", "auto", "eco", "premium", "free":
	default:
		return fmt.Errorf("agent.routing_profile must be one of auto, eco, premium, free")
	}
	return nil
}

// Default returns a configuration with conservative, secure-by-default values.
func Default() *Config {
	return &Config{
		Version:   CurrentVersion,
		Agent:     AgentConfig{RoutingProfile: "auto"},
		Workspace: WorkspaceConfig{Root: ".", BootstrapFiles: true, DailyResetHour: 4},
		LLM: LLMConfig{
			Provider:       "anthropic",
			DefaultModel:   "claude-sonnet-4-5",
			MaxRetries:     3,
			RetryDelay:     time.Second,
			RequestTimeout: 2 * time.Minute,
		},
		Sandbox: SandboxConfig{
			PoolSize:        2,
			MaxPoolSize:     8,
			DefaultTimeout:  10 * time.Second,
			FuelLimit:       50_000_000,
			MemoryPagesMax:  256,
			WorkspaceAccess: "none",
			RateLimitPerMin: 60,
		},
		Guard: GuardConfig{
			Enabled:         true,
			Packs:           []string{"posix", "git"},
			FailClosed:      false,
			EvaluateTimeout: 25 * time.Millisecond,
		},
		Integrity: IntegrityConfig{
			Enabled:      true,
			ScanInterval: 30 * time.Second,
			Mode:         "alert",
		},
		Vault: VaultConfig{
			Enabled:      true,
			ScanOutbound: true,
		},
		Compaction: CompactionConfig{
			ContextWindowTokens: 100_000,
			TargetContextShare:  0.6,
			EnableDedup:         true,
			EnableDictionary:    true,
			EnablePatternRLE:    true,
		},
		TaskGraph: TaskGraphConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			ConnectTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30 * time.Minute,
		},
	}
}
