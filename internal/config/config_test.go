package config_test

import (
	"strings"
	"testing"

	"crewline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default("demo")
	if cfg.Simulation.ProjectID != "demo" {
		t.Fatalf("project id: %s", cfg.Simulation.ProjectID)
	}
	if len(cfg.Roster) != 4 {
		t.Fatalf("default roster size: %d", len(cfg.Roster))
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default must validate: %v", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`simulation:
  project_id: p
roster:
  - id: solo
    name: Solo
    role: engineer
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := cfg.Simulation
	if s.TickIntervalMS != 1000 || s.SnapshotEveryTicks != 5 || s.PersistEveryTicks != 20 {
		t.Fatalf("cadence defaults missing: %+v", s)
	}
	if s.NegotiationStallTicks != 12 || s.StarvationAfterTicks != 10 || s.MaxTasksPerAgent != 3 {
		t.Fatalf("threshold defaults missing: %+v", s)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing project id",
			"simulation: {seed: 1}\nroster: [{id: a, name: A, role: r}]",
			"project_id",
		},
		{
			"empty roster",
			"simulation: {project_id: p}",
			"roster",
		},
		{
			"duplicate agent",
			"simulation: {project_id: p}\nroster: [{id: a, name: A, role: r}, {id: a, name: B, role: r}]",
			"duplicate",
		},
		{
			"capability out of range",
			"simulation: {project_id: p}\nroster: [{id: a, name: A, role: r, capabilities: {backend: 150}}]",
			"out of range",
		},
		{
			"task rate out of range",
			"simulation: {project_id: p, task_rate: 1.5}\nroster: [{id: a, name: A, role: r}]",
			"task_rate",
		},
		{
			"template with unknown type",
			"simulation: {project_id: p}\nroster: [{id: a, name: A, role: r}]\nscenario: {templates: [{title: x, type: nope, priority: low, estimated_duration: 5}]}",
			"unknown task type",
		},
		{
			"template with bad priority",
			"simulation: {project_id: p}\nroster: [{id: a, name: A, role: r}]\ntask_types: {chore: []}\nscenario: {templates: [{title: x, type: chore, priority: asap, estimated_duration: 5}]}",
			"priority",
		},
		{
			"script entry without tick",
			"simulation: {project_id: p}\nroster: [{id: a, name: A, role: r}]\ntask_types: {chore: []}\nscenario: {script: [{task: {title: x, type: chore, priority: low, estimated_duration: 5}}]}",
			"tick",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("p1")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("generated yaml must parse: %v", err)
	}
	if cfg.Simulation.ProjectID != "p1" {
		t.Fatalf("project id lost: %s", cfg.Simulation.ProjectID)
	}
	if len(cfg.Scenario.Templates) == 0 || len(cfg.Scenario.Script) == 0 {
		t.Fatal("default scenario content missing")
	}
}
