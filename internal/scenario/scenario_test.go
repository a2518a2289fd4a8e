package scenario_test

import (
	"reflect"
	"testing"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/scenario"
)

func feedConfig(taskRate float64) *config.Config {
	cfg := config.Default("scen-test")
	cfg.Simulation.TaskRate = taskRate
	return cfg
}

func TestScriptedEventsFireAtTheirTick(t *testing.T) {
	f := scenario.NewFeed(feedConfig(0), 1)
	if events := f.Generate(0); len(events) != 0 {
		t.Fatalf("tick 0 should be silent, got %v", events)
	}
	events := f.Generate(1)
	if len(events) != 1 {
		t.Fatalf("kickoff script should fire at tick 1, got %d events", len(events))
	}
	ev, ok := events[0].(domain.NewTaskEvent)
	if !ok {
		t.Fatalf("want NewTaskEvent, got %T", events[0])
	}
	if ev.Task.Title != "Bootstrap project board" || ev.Task.Status != domain.TaskPending {
		t.Fatalf("scripted task wrong: %+v", ev.Task)
	}
	if ev.Task.ID == "" || ev.Task.CreatedTick != 1 {
		t.Fatalf("task identity wrong: %+v", ev.Task)
	}
}

func TestZeroTaskRateGeneratesNoRandomTasks(t *testing.T) {
	f := scenario.NewFeed(feedConfig(0), 1)
	for tick := int64(2); tick <= 100; tick++ {
		if events := f.Generate(tick); len(events) != 0 {
			t.Fatalf("tick %d: unexpected events %v", tick, events)
		}
	}
}

func TestSameSeedSameStream(t *testing.T) {
	run := func() []domain.Event {
		f := scenario.NewFeed(feedConfig(0.5), 42)
		var all []domain.Event
		for tick := int64(1); tick <= 50; tick++ {
			all = append(all, f.Generate(tick)...)
		}
		return all
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed must produce the same event stream")
	}
	if len(a) < 2 {
		t.Fatalf("rate 0.5 over 50 ticks should produce tasks, got %d", len(a))
	}
}

func TestGeneratedTaskIDsAreUnique(t *testing.T) {
	f := scenario.NewFeed(feedConfig(1), 7)
	seen := map[string]bool{}
	for tick := int64(1); tick <= 200; tick++ {
		for _, ev := range f.Generate(tick) {
			task := ev.(domain.NewTaskEvent).Task
			if seen[task.ID] {
				t.Fatalf("duplicate task id %s", task.ID)
			}
			seen[task.ID] = true
		}
	}
}

func TestTriggerScenarioByID(t *testing.T) {
	f := scenario.NewFeed(feedConfig(0), 1)
	ev, ok := f.TriggerScenario("kickoff")
	if !ok {
		t.Fatal("kickoff scenario should exist")
	}
	task := ev.(domain.NewTaskEvent).Task
	if task.Title != "Bootstrap project board" {
		t.Fatalf("wrong scenario fired: %+v", task)
	}
	if _, ok := f.TriggerScenario("nope"); ok {
		t.Fatal("unknown scenario must not fire")
	}
}

func TestStaticReplaysSchedule(t *testing.T) {
	s := scenario.Static{Events: map[int64][]domain.Event{
		3: {domain.NewTaskEvent{Task: domain.Task{ID: "x"}}},
	}}
	if got := s.Generate(2); got != nil {
		t.Fatalf("tick 2: want nil, got %v", got)
	}
	if got := s.Generate(3); len(got) != 1 {
		t.Fatalf("tick 3: want 1 event, got %v", got)
	}
	if _, ok := s.TriggerScenario("anything"); ok {
		t.Fatal("static feed has no named scenarios")
	}
}
