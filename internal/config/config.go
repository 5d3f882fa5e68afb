// Package config handles Nox configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/nox/config.yaml, /etc/nox/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nox", "config.yaml"))
	}

	paths = append(paths, "/etc/nox/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Nox configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	Embeddings    EmbeddingsConfig    `yaml:"embeddings"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Memory        MemoryConfig        `yaml:"memory"`
	Agent         AgentConfig         `yaml:"agent"`
	Prompt        PromptConfig        `yaml:"prompt"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the HTTP API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the LLM provider connection.
type OllamaConfig struct {
	URL        string `yaml:"url"`   // e.g. http://localhost:11434
	Model      string `yaml:"model"` // e.g. gemma3n:e2b
	TimeoutSec int    `yaml:"timeout_sec"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model string `yaml:"model"` // Embedding model name (e.g. nomic-embed-text)
	URL   string `yaml:"url"`   // Ollama URL (defaults to ollama.url)
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Watch enables the websocket state watcher. When on, entity state
	// queries can be answered from the local cache if the REST API is
	// momentarily unreachable.
	Watch bool `yaml:"watch"`
}

// TelegramConfig defines the Telegram transport settings.
type TelegramConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"` // chat IDs permitted to talk to Nox; empty = everyone
}

// MemoryConfig defines long- and short-term memory settings.
type MemoryConfig struct {
	Path string `yaml:"path"` // sqlite file path (defaults to <data_dir>/memory.db)

	// RetrieveK is how many long-term records to fetch per turn.
	RetrieveK int `yaml:"retrieve_k"`

	// MinSimilarity is the relevance cutoff: retrieved records scoring
	// below it are discarded rather than stuffed into the prompt.
	MinSimilarity float64 `yaml:"min_similarity"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// WindowSize is the short-term conversation window capacity per session.
	WindowSize int `yaml:"window_size"`
}

// AgentConfig defines agent loop settings.
type AgentConfig struct {
	// MaxIterations caps think→act cycles per turn.
	MaxIterations int `yaml:"max_iterations"`

	// Apology is returned when the LLM provider is unreachable.
	Apology string `yaml:"apology"`
}

// PromptConfig defines the prompt template sources.
type PromptConfig struct {
	// Persona replaces the built-in persona text when set.
	Persona string `yaml:"persona"`
	// PersonaFile is read at startup if set; overrides Persona.
	PersonaFile string `yaml:"persona_file"`
	// TemplateFile replaces the built-in prompt template when set.
	// The template is parsed and validated at startup; a broken or
	// incomplete template is a fatal configuration error.
	TemplateFile string `yaml:"template_file"`
}

// Load reads configuration from a YAML file. Environment variables in the
// file body ($VAR or ${VAR}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Ollama: OllamaConfig{
			URL:   "http://localhost:11434",
			Model: "gemma3n:e2b",
		},
		DataDir:  "data",
		LogLevel: "info",
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values left by the YAML file.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Ollama.TimeoutSec <= 0 {
		c.Ollama.TimeoutSec = 120
	}
	if c.Embeddings.URL == "" {
		c.Embeddings.URL = c.Ollama.URL
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Memory.RetrieveK <= 0 {
		c.Memory.RetrieveK = 3
	}
	if c.Memory.MinSimilarity <= 0 {
		c.Memory.MinSimilarity = 0.3
	}
	if c.Memory.ChunkSize <= 0 {
		c.Memory.ChunkSize = 1000
	}
	if c.Memory.ChunkOverlap <= 0 {
		c.Memory.ChunkOverlap = 100
	}
	if c.Memory.WindowSize <= 0 {
		c.Memory.WindowSize = 10
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 15
	}
	if c.Agent.Apology == "" {
		c.Agent.Apology = "Sorry, I can't reach my brain right now. Please try again in a moment."
	}
}
