package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"crewline/internal/domain"
)

// Config models crewline.yml: simulation parameters, the agent roster, the
// task-type skill catalog, and the scenario feed.
type Config struct {
	Simulation struct {
		ProjectID             string  `yaml:"project_id"`
		Seed                  int64   `yaml:"seed"`
		TickIntervalMS        int     `yaml:"tick_interval_ms"`
		SnapshotEveryTicks    int64   `yaml:"snapshot_every_ticks"`
		PersistEveryTicks     int64   `yaml:"persist_every_ticks"`
		NegotiationStallTicks int64   `yaml:"negotiation_stall_ticks"`
		StarvationAfterTicks  int64   `yaml:"starvation_after_ticks"`
		MaxTasksPerAgent      int     `yaml:"max_tasks_per_agent"`
		TaskRate              float64 `yaml:"task_rate"`
	} `yaml:"simulation"`
	Roster    []RosterAgent       `yaml:"roster"`
	TaskTypes map[string][]string `yaml:"task_types"`
	Scenario  struct {
		Templates []TaskTemplate  `yaml:"templates"`
		Script    []ScriptedEvent `yaml:"script"`
	} `yaml:"scenario"`
}

type RosterAgent struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Role         string             `yaml:"role"`
	Capabilities map[string]float64 `yaml:"capabilities"`
	Personality  struct {
		Proactivity   float64 `yaml:"proactivity"`
		Thoroughness  float64 `yaml:"thoroughness"`
		Speed         float64 `yaml:"speed"`
		Collaboration float64 `yaml:"collaboration"`
		RiskTolerance float64 `yaml:"risk_tolerance"`
	} `yaml:"personality"`
}

type TaskTemplate struct {
	Title             string              `yaml:"title"`
	Type              string              `yaml:"type"`
	Priority          domain.TaskPriority `yaml:"priority"`
	EstimatedDuration float64             `yaml:"estimated_duration"`
}

// ScriptedEvent fires a fixed event at a fixed tick; used for deterministic
// scenarios and tests.
type ScriptedEvent struct {
	ID   string       `yaml:"id"`
	Tick int64        `yaml:"tick"`
	Task TaskTemplate `yaml:"task"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with cw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Simulation.ProjectID == "" {
		return fmt.Errorf("config.simulation.project_id is required")
	}
	if c.Simulation.TickIntervalMS < 0 {
		return fmt.Errorf("config.simulation.tick_interval_ms must be >= 0")
	}
	if c.Simulation.TaskRate < 0 || c.Simulation.TaskRate > 1 {
		return fmt.Errorf("config.simulation.task_rate must be within [0,1]")
	}
	if len(c.Roster) == 0 {
		return fmt.Errorf("config.roster must list at least one agent")
	}
	seen := map[string]bool{}
	for _, a := range c.Roster {
		if a.ID == "" {
			return fmt.Errorf("config.roster contains an agent without id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate roster agent id %s", a.ID)
		}
		seen[a.ID] = true
		for skill, level := range a.Capabilities {
			if level < 0 || level > 100 {
				return fmt.Errorf("agent %s capability %s out of range [0,100]", a.ID, skill)
			}
		}
		for name, v := range map[string]float64{
			"proactivity":    a.Personality.Proactivity,
			"thoroughness":   a.Personality.Thoroughness,
			"speed":          a.Personality.Speed,
			"collaboration":  a.Personality.Collaboration,
			"risk_tolerance": a.Personality.RiskTolerance,
		} {
			if v < 0 || v > 100 {
				return fmt.Errorf("agent %s personality %s out of range [0,100]", a.ID, name)
			}
		}
	}
	for i, tpl := range c.Scenario.Templates {
		if err := c.validateTemplate(tpl); err != nil {
			return fmt.Errorf("scenario template %d: %w", i, err)
		}
	}
	for i, ev := range c.Scenario.Script {
		if ev.Tick <= 0 {
			return fmt.Errorf("scenario script entry %d needs tick > 0", i)
		}
		if err := c.validateTemplate(ev.Task); err != nil {
			return fmt.Errorf("scenario script entry %d: %w", i, err)
		}
	}
	return nil
}

func (c *Config) validateTemplate(tpl TaskTemplate) error {
	if tpl.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if tpl.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if _, ok := c.TaskTypes[tpl.Type]; !ok {
		return fmt.Errorf("unknown task type %s", tpl.Type)
	}
	switch tpl.Priority {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return fmt.Errorf("invalid priority %q", tpl.Priority)
	}
	if tpl.EstimatedDuration <= 0 {
		return fmt.Errorf("estimated_duration must be > 0")
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for a project.
func Default(projectID string) *Config {
	cfg, err := FromYAML([]byte(fmt.Sprintf(defaultTemplate, projectID)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

func (c *Config) applyDefaults() {
	s := &c.Simulation
	if s.TickIntervalMS == 0 {
		s.TickIntervalMS = 1000
	}
	if s.SnapshotEveryTicks == 0 {
		s.SnapshotEveryTicks = 5
	}
	if s.PersistEveryTicks == 0 {
		s.PersistEveryTicks = 20
	}
	if s.NegotiationStallTicks == 0 {
		s.NegotiationStallTicks = 12
	}
	if s.StarvationAfterTicks == 0 {
		s.StarvationAfterTicks = 10
	}
	if s.MaxTasksPerAgent == 0 {
		s.MaxTasksPerAgent = 3
	}
}

const defaultTemplate = `simulation:
  project_id: %s
  seed: 42
  tick_interval_ms: 1000
  snapshot_every_ticks: 5
  persist_every_ticks: 20
  negotiation_stall_ticks: 12
  starvation_after_ticks: 10
  max_tasks_per_agent: 3
  task_rate: 0.25

roster:
  - id: ada
    name: Ada
    role: engineer
    capabilities: {backend: 85, frontend: 40, review: 60}
    personality: {proactivity: 65, thoroughness: 80, speed: 60, collaboration: 75, risk_tolerance: 30}
  - id: bram
    name: Bram
    role: engineer
    capabilities: {backend: 55, frontend: 80, review: 50}
    personality: {proactivity: 50, thoroughness: 60, speed: 80, collaboration: 60, risk_tolerance: 55}
  - id: cleo
    name: Cleo
    role: reviewer
    capabilities: {backend: 45, frontend: 45, review: 90}
    personality: {proactivity: 40, thoroughness: 90, speed: 50, collaboration: 85, risk_tolerance: 20}
  - id: dot
    name: Dot
    role: generalist
    capabilities: {backend: 60, frontend: 60, review: 60}
    personality: {proactivity: 70, thoroughness: 65, speed: 70, collaboration: 70, risk_tolerance: 45}

task_types:
  feature: [backend, frontend]
  bugfix: [backend]
  review: [review]
  chore: []

scenario:
  templates:
    - {title: "Implement settings page", type: feature, priority: medium, estimated_duration: 40}
    - {title: "Fix login timeout", type: bugfix, priority: high, estimated_duration: 25}
    - {title: "Review release branch", type: review, priority: medium, estimated_duration: 20}
    - {title: "Rotate API credentials", type: chore, priority: low, estimated_duration: 15}
  script:
    - {id: kickoff, tick: 1, task: {title: "Bootstrap project board", type: chore, priority: medium, estimated_duration: 20}}
`
