// Package config loads the agent's YAML configuration. Every field has
// a working default, so a missing file runs the agent with the stock
// tuning; secrets (the Anthropic API key) come from the environment,
// never from the file on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
}

// EngineConfig tunes the turn orchestrator and its components.
type EngineConfig struct {
	// RecentWindow is how many committed turns are read back as
	// planning and phase context.
	RecentWindow int `yaml:"recent_window"`

	// ExecutorTimeout bounds the specialist fan-out per turn.
	ExecutorTimeout string `yaml:"executor_timeout"`

	// ReflectionCooldown is how many turns must pass between
	// reflection fragments.
	ReflectionCooldown int `yaml:"reflection_cooldown"`

	// OverlapThreshold is the fragment similarity above which the
	// synthesizer drops the lower-ranked fragment.
	OverlapThreshold float64 `yaml:"overlap_threshold"`

	// UnderstandingTurns and HoldTurns pace phase progression;
	// TopicShiftBelow is the overlap under which a turn counts as a
	// topic shift.
	UnderstandingTurns int     `yaml:"understanding_turns"`
	HoldTurns          int     `yaml:"hold_turns"`
	TopicShiftBelow    float64 `yaml:"topic_shift_below"`

	// ResetOnCrisis sends the session back to understanding after a
	// crisis turn.
	ResetOnCrisis bool `yaml:"reset_on_crisis"`
}

// MemoryConfig selects and tunes the memory backend.
type MemoryConfig struct {
	// Backend is "sqlite" (persistent) or "memory" (process-local).
	Backend string `yaml:"backend"`

	// DatabasePath locates the sqlite file when Backend is "sqlite".
	DatabasePath string `yaml:"database_path"`

	// InactivityGap is how long a session may sit idle before the
	// sweeper closes it into long-term memory.
	InactivityGap string `yaml:"inactivity_gap"`

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval string `yaml:"sweep_interval"`

	// ProfileCacheTTL bounds staleness of the in-process profile
	// cache.
	ProfileCacheTTL string `yaml:"profile_cache_ttl"`
}

// RetrievalConfig tunes the knowledge index.
type RetrievalConfig struct {
	// PersistDir is where the vector index lives on disk; empty keeps
	// it in memory only.
	PersistDir string `yaml:"persist_dir"`

	Collection   string `yaml:"collection"`
	TopK         int    `yaml:"top_k"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// LLMConfig configures the response generator. An empty APIKey (after
// the ANTHROPIC_API_KEY override) disables generation: the agent then
// runs fully deterministic.
type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// ServerConfig configures the WebSocket front end.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the stock tuning. The values mirror the
// component defaults so a zero-config run and an explicitly defaulted
// file behave identically.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			RecentWindow:       10,
			ExecutorTimeout:    "15s",
			ReflectionCooldown: 3,
			OverlapThreshold:   0.5,
			UnderstandingTurns: 2,
			HoldTurns:          2,
			TopicShiftBelow:    0.12,
			ResetOnCrisis:      true,
		},
		Memory: MemoryConfig{
			Backend:         "sqlite",
			DatabasePath:    "data/anaya.db",
			InactivityGap:   "30m",
			SweepInterval:   "1m",
			ProfileCacheTTL: "5m",
		},
		Retrieval: RetrievalConfig{
			PersistDir:   "data/index",
			Collection:   "anaya-knowledge",
			TopK:         6,
			ChunkSize:    1000,
			ChunkOverlap: 100,
		},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads the config at path, layered over DefaultConfig. A missing
// file returns the defaults; a present but malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the environment win for secrets.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
}

// Validate reports the first configuration error. Called once at
// startup so bad duration strings fail before any component is wired.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown memory backend %q (want sqlite or memory)", c.Memory.Backend)
	}
	for field, value := range map[string]string{
		"engine.executor_timeout":  c.Engine.ExecutorTimeout,
		"memory.inactivity_gap":    c.Memory.InactivityGap,
		"memory.sweep_interval":    c.Memory.SweepInterval,
		"memory.profile_cache_ttl": c.Memory.ProfileCacheTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize && c.Retrieval.ChunkSize > 0 {
		return fmt.Errorf("retrieval.chunk_overlap %d must be smaller than chunk_size %d",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	return nil
}

// GetExecutorTimeout parses the executor timeout, falling back to the
// default on a missing or malformed value.
func (c *Config) GetExecutorTimeout() time.Duration {
	return durationOr(c.Engine.ExecutorTimeout, 15*time.Second)
}

// GetInactivityGap parses the session inactivity gap.
func (c *Config) GetInactivityGap() time.Duration {
	return durationOr(c.Memory.InactivityGap, 30*time.Minute)
}

// GetSweepInterval parses the idle sweep interval.
func (c *Config) GetSweepInterval() time.Duration {
	return durationOr(c.Memory.SweepInterval, time.Minute)
}

// GetProfileCacheTTL parses the profile cache TTL.
func (c *Config) GetProfileCacheTTL() time.Duration {
	return durationOr(c.Memory.ProfileCacheTTL, 5*time.Minute)
}

func durationOr(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
