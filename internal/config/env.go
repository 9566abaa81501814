package config

import "os"

// AgentConfig identifies this agent instance and its model-routing posture.
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// RoutingProfile is one of auto, eco, premium, free.
	RoutingProfile string `yaml:"routing_profile"`
}

// ApplyEnv overlays the process environment onto cfg. Environment variables
// win over file values, matching the deployment convention where the config
// file carries defaults and the environment carries per-instance identity.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("AGENT_ID"); ok {
		cfg.Agent.ID = v
	}
	if v, ok := lookup("AGENT_NAME"); ok {
		cfg.Agent.Name = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.TaskGraph.DSN = v
	}
	if v, ok := lookup("ROUTING_PROFILE"); ok {
		cfg.Agent.RoutingProfile = v
	}
	if v, ok := lookup("LLM_BACKEND"); ok {
		cfg.LLM.Provider = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
}
