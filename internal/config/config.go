package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend    BackendConfig        `yaml:"backend"`
	Transcript TranscriptConfig     `yaml:"transcript"`
	Agents     []AgentDefinition    `yaml:"agents"`
	Store      StoreConfig          `yaml:"store"`
	Vault      VaultConfig          `yaml:"vault"`
	NATS       NATSConfig           `yaml:"nats"`
	Web        WebConfig            `yaml:"web"`
	Telegram   TelegramConfig       `yaml:"telegram"`
	Scheduler  SchedulerConfig      `yaml:"scheduler"`
	Schedules  []ScheduleDefinition `yaml:"schedules"`
}

type BackendConfig struct {
	URL        string `yaml:"url"`
	StreamPath string `yaml:"stream_path"`
	Token      string `yaml:"token"`
}

type TranscriptConfig struct {
	TopLevelNode string `yaml:"top_level_node"`
	SystemAgent  string `yaml:"system_agent"`
	ErrorMarker  string `yaml:"error_marker"`
}

// AgentDefinition is one member of the fixed agent roster. Name is the
// display name the orchestrator puts in the `agent` field of its events.
type AgentDefinition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Role        string `yaml:"role"`
	Description string `yaml:"description"`
	Layer       int    `yaml:"layer"`
	Parent      string `yaml:"parent"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScheduleDefinition submits Task whenever it falls due. Exactly one of
// Cron, Interval or At is expected.
type ScheduleDefinition struct {
	Name     string        `yaml:"name"`
	Task     string        `yaml:"task"`
	Cron     string        `yaml:"cron"`
	Interval time.Duration `yaml:"interval"`
	At       time.Time     `yaml:"at"`
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			URL:        "http://localhost:8000",
			StreamPath: "/stream-chat",
		},
		Transcript: TranscriptConfig{
			TopLevelNode: "supervisor",
			SystemAgent:  "System",
			ErrorMarker:  "❌ ",
		},
		Agents: DefaultAgents(),
		Store: StoreConfig{
			Path: "data/teamfeed.db",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// DefaultAgents mirrors the three-layer team of the reference orchestrator.
func DefaultAgents() []AgentDefinition {
	return []AgentDefinition{
		{ID: "supervisor", Name: "Supervisor", Role: "Top-level Supervisor", Description: "Task assignment and team coordination", Layer: 1},
		{ID: "research_team", Name: "Research Team", Role: "Research Team Supervisor", Description: "Coordinates research work", Layer: 2, Parent: "supervisor"},
		{ID: "document_writing_team", Name: "Document Writing Team", Role: "Document Writing Team Supervisor", Description: "Coordinates document writing", Layer: 2, Parent: "supervisor"},
		{ID: "search_team", Name: "Search Team", Role: "Search Team", Description: "Search and information extraction", Layer: 3, Parent: "research_team"},
		{ID: "writing_team", Name: "Writing Team", Role: "Writing Team", Description: "Document creation and visualisation", Layer: 3, Parent: "document_writing_team"},
		{ID: "searcher", Name: "Searcher", Role: "Search Specialist", Description: "Web search", Layer: 3, Parent: "search_team"},
		{ID: "web_crawler", Name: "Web Crawler", Role: "Web Crawler Specialist", Description: "Web page scraping", Layer: 3, Parent: "search_team"},
		{ID: "writer", Name: "Writer", Role: "Writing Specialist", Description: "Document writing", Layer: 3, Parent: "writing_team"},
		{ID: "notebook", Name: "Notebook", Role: "Notebook Specialist", Description: "Notes", Layer: 3, Parent: "writing_team"},
		{ID: "chart_generator", Name: "Chart Generator", Role: "Chart Generation Specialist", Description: "Data visualisation", Layer: 3, Parent: "writing_team"},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("TEAMFEED_CONFIG")
	if path == "" {
		path = "config/teamfeed.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TEAMFEED_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("TEAMFEED_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("TEAMFEED_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TEAMFEED_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("TEAMFEED_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("TEAMFEED_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("TEAMFEED_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TEAMFEED_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

// Validate checks the parts of the configuration that would otherwise fail
// late, at the first submitted run.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if !strings.HasPrefix(c.Backend.StreamPath, "/") {
		return fmt.Errorf("backend.stream_path must start with /")
	}

	seen := make(map[string]bool, len(c.Agents))
	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agent definitions need both id and name")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.ID] = true
		names[a.Name] = true
	}

	for _, s := range c.Schedules {
		if s.Name == "" || strings.TrimSpace(s.Task) == "" {
			return fmt.Errorf("schedules need both name and task")
		}
	}
	return nil
}
