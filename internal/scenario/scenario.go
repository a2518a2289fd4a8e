// Package scenario feeds the simulation with work. The scripted part is fully
// deterministic; the random part draws from configured templates through the
// generator's own seeded source.
package scenario

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
)

// Generator produces events for the engine each tick and can fire named
// scripted events on demand.
type Generator interface {
	Generate(tick int64) []domain.Event
	TriggerScenario(id string) (domain.Event, bool)
}

// Feed implements Generator from config: scripted events fire at their tick,
// and with probability TaskRate a random template becomes a new task.
type Feed struct {
	rng       *rand.Rand
	taskRate  float64
	templates []config.TaskTemplate
	script    map[int64][]config.ScriptedEvent
	byID      map[string]config.ScriptedEvent
	serial    int64
}

func NewFeed(cfg *config.Config, seed int64) *Feed {
	f := &Feed{
		rng:       rand.New(rand.NewSource(seed)),
		taskRate:  cfg.Simulation.TaskRate,
		templates: cfg.Scenario.Templates,
		script:    map[int64][]config.ScriptedEvent{},
		byID:      map[string]config.ScriptedEvent{},
	}
	for _, ev := range cfg.Scenario.Script {
		f.script[ev.Tick] = append(f.script[ev.Tick], ev)
		if ev.ID != "" {
			f.byID[ev.ID] = ev
		}
	}
	return f
}

func (f *Feed) Generate(tick int64) []domain.Event {
	var events []domain.Event
	for _, ev := range f.script[tick] {
		events = append(events, f.eventFromTemplate(ev.Task, tick))
	}
	if len(f.templates) > 0 && f.rng.Float64() < f.taskRate {
		tpl := f.templates[f.rng.Intn(len(f.templates))]
		events = append(events, f.eventFromTemplate(tpl, tick))
	}
	return events
}

// TriggerScenario fires a named scripted event regardless of its tick.
func (f *Feed) TriggerScenario(id string) (domain.Event, bool) {
	ev, ok := f.byID[id]
	if !ok {
		return nil, false
	}
	return f.eventFromTemplate(ev.Task, 0), true
}

func (f *Feed) eventFromTemplate(tpl config.TaskTemplate, tick int64) domain.Event {
	f.serial++
	return domain.NewTaskEvent{Task: domain.Task{
		ID:                fmt.Sprintf("task-%s", uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d|%d|%s", tick, f.serial, tpl.Title))).String()[:8]),
		Title:             tpl.Title,
		Type:              tpl.Type,
		Priority:          tpl.Priority,
		Status:            domain.TaskPending,
		EstimatedDuration: tpl.EstimatedDuration,
		CreatedTick:       tick,
	}}
}

// Static replays a fixed schedule of events; tests use it for exact control.
type Static struct {
	Events map[int64][]domain.Event
}

func (s Static) Generate(tick int64) []domain.Event { return s.Events[tick] }

func (s Static) TriggerScenario(id string) (domain.Event, bool) { return nil, false }
