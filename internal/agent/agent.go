// Package agent implements the worker state machine: energy/workload dynamics,
// task acceptance rules, per-tick task progress, and collaboration responses.
package agent

import (
	"errors"
	"fmt"
	"math/rand"

	"crewline/internal/domain"
)

// Status is the agent's activity state. Meeting and busy are valid targets for
// external events but are not entered by the core loop itself.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusMeeting Status = "meeting"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

const (
	// DefaultMaxTasks caps how many tasks an agent holds at once.
	DefaultMaxTasks = 3

	idleEnergyGain   = 0.5
	activeEnergyCost = 0.2
	workloadDecay    = 0.5
	minAcceptEnergy  = 15
	baseProgressRate = 5.0
	multitaskFactor  = 0.7
	defaultTrust     = 50
)

var ErrCannotAccept = errors.New("agent cannot accept task")

// Personality traits, each on a 0-100 scale.
type Personality struct {
	Proactivity   float64 `json:"proactivity"`
	Thoroughness  float64 `json:"thoroughness"`
	Speed         float64 `json:"speed"`
	Collaboration float64 `json:"collaboration"`
	RiskTolerance float64 `json:"risk_tolerance"`
}

// Relationship tracks how an agent relates to one peer.
type Relationship struct {
	Trust               float64 `json:"trust"`
	CollaborationCount  int     `json:"collaboration_count"`
	LastInteractionTick int64   `json:"last_interaction_tick"`
}

// Stats accumulates lifetime counters.
type Stats struct {
	TasksCompleted             int `json:"tasks_completed"`
	TasksDelegated             int `json:"tasks_delegated"`
	CollaborationsInitiated    int `json:"collaborations_initiated"`
	CollaborationsParticipated int `json:"collaborations_participated"`
}

// Agent is a simulated worker. It is created once at simulation start (or
// restored from a snapshot) and mutated only by its own Update and by
// AssignTask; the engine owns the call sequence.
type Agent struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Role         string                   `json:"role"`
	Capabilities map[string]float64       `json:"capabilities"`
	Personality  Personality              `json:"personality"`
	Status       Status                   `json:"status"`
	Energy       float64                  `json:"energy"`
	Workload     float64                  `json:"workload"`
	CurrentTasks []string                 `json:"current_tasks"`
	ActiveTaskID string                   `json:"active_task_id,omitempty"`
	MaxTasks     int                      `json:"max_tasks"`
	Relationships map[string]*Relationship `json:"relationships"`
	Stats            Stats `json:"stats"`
	LastAssignedTick int64 `json:"last_assigned_tick,omitempty"`
}

// New returns an idle agent at full energy.
func New(id, name, role string, caps map[string]float64, p Personality) *Agent {
	c := make(map[string]float64, len(caps))
	for k, v := range caps {
		c[k] = clamp(v, 0, 100)
	}
	return &Agent{
		ID:            id,
		Name:          name,
		Role:          role,
		Capabilities:  c,
		Personality:   p,
		Status:        StatusIdle,
		Energy:        100,
		MaxTasks:      DefaultMaxTasks,
		Relationships: map[string]*Relationship{},
	}
}

// TaskLookup resolves a task id to the engine-owned task record.
type TaskLookup func(id string) *domain.Task

// Update advances the agent one tick and returns any events it emitted.
func (a *Agent) Update(tick int64, rng *rand.Rand, lookup TaskLookup) []domain.Event {
	if a.Status == StatusIdle {
		a.Energy = clamp(a.Energy+idleEnergyGain, 0, 100)
	} else {
		a.Energy = clamp(a.Energy-activeEnergyCost, 0, 100)
	}
	if a.Status == StatusIdle && len(a.CurrentTasks) == 0 {
		a.Workload = clamp(a.Workload-workloadDecay, 0, 100)
	}

	var events []domain.Event
	if a.Status == StatusWorking && a.ActiveTaskID != "" {
		if t := lookup(a.ActiveTaskID); t != nil {
			events = append(events, a.workOnTask(t, tick)...)
		}
	}
	if a.Status == StatusIdle && rng != nil && rng.Float64() < a.Personality.Proactivity/100 {
		a.considerProactiveAction(tick)
	}
	return events
}

// considerProactiveAction is an extension point; proactive agents currently do
// nothing beyond rolling the dice.
func (a *Agent) considerProactiveAction(tick int64) {}

// CanAcceptTask applies the acceptance gates: offline and exhausted agents
// refuse everything, workload ceilings scale with priority, and only urgent
// tasks preempt an agent that is already working.
func (a *Agent) CanAcceptTask(priority domain.TaskPriority) bool {
	if a.Status == StatusOffline {
		return false
	}
	if a.Energy < minAcceptEnergy {
		return false
	}
	maxWorkload := 40.0
	switch priority {
	case domain.PriorityUrgent:
		maxWorkload = 85
	case domain.PriorityHigh:
		maxWorkload = 60
	}
	if a.Workload > maxWorkload {
		return false
	}
	if a.Status == StatusWorking && priority != domain.PriorityUrgent {
		return false
	}
	return len(a.CurrentTasks) < a.maxTasks()
}

// AssignTask accepts the task, making it active if the agent has none. The
// task lands in the assigned state; it moves to in_progress when the agent
// first works on it.
func (a *Agent) AssignTask(t *domain.Task, tick int64) error {
	if !a.CanAcceptTask(t.Priority) {
		return fmt.Errorf("%w: agent %s, task %s", ErrCannotAccept, a.ID, t.ID)
	}
	a.CurrentTasks = append(a.CurrentTasks, t.ID)
	if a.ActiveTaskID == "" {
		a.ActiveTaskID = t.ID
		a.Status = StatusWorking
	}
	a.Workload = clamp(a.Workload+t.EstimatedDuration/10, 0, 100)
	a.LastAssignedTick = tick

	t.Status = domain.TaskAssigned
	t.AssigneeID = a.ID
	t.AssignedTick = tick
	return nil
}

// workOnTask advances the active task. Progress depends on energy,
// thoroughness and speed; holding several tasks slows each one down. A task
// entering the (50,60) window asks for collaboration exactly once.
func (a *Agent) workOnTask(t *domain.Task, tick int64) []domain.Event {
	if t.Status == domain.TaskAssigned {
		t.Status = domain.TaskInProgress
	}
	efficiency := (a.Energy / 100) * (a.Personality.Thoroughness / 100)
	multiplier := 1.0
	if len(a.CurrentTasks) > 1 {
		multiplier = multitaskFactor
	}
	t.Progress += efficiency * (a.Personality.Speed / 100) * baseProgressRate * multiplier

	var events []domain.Event
	if t.Progress > 50 && t.Progress < 60 && !t.CollabRequested {
		t.CollabRequested = true
		events = append(events, domain.CollaborationRequestEvent{
			TaskID:  t.ID,
			AgentID: a.ID,
			Reason:  fmt.Sprintf("%s wants a second pair of hands on %q", a.Name, t.Title),
		})
	}
	if t.Progress >= 100 {
		events = append(events, a.completeTask(t, tick)...)
	}
	return events
}

// completeTask finishes the task and releases its workload share. It does not
// auto-start the next queued task; the engine hands the agent its next active
// task on a later tick through the allocator.
func (a *Agent) completeTask(t *domain.Task, tick int64) []domain.Event {
	t.Progress = 100
	t.Status = domain.TaskCompleted
	t.CompletedTick = tick
	if t.AssignedTick > 0 {
		t.ActualDuration = tick - t.AssignedTick
	}
	a.Stats.TasksCompleted++
	a.removeTask(t.ID)
	a.Workload = clamp(a.Workload-t.EstimatedDuration/10, 0, 100)
	if a.ActiveTaskID == t.ID {
		a.ActiveTaskID = ""
	}
	if len(a.CurrentTasks) == 0 {
		a.Status = StatusIdle
	}
	return []domain.Event{domain.TaskCompletedEvent{TaskID: t.ID, AgentID: a.ID, Tick: tick}}
}

// DropTask removes the task without completing it (delegation path). The
// workload share moves with the task.
func (a *Agent) DropTask(t *domain.Task) {
	a.removeTask(t.ID)
	a.Workload = clamp(a.Workload-t.EstimatedDuration/10, 0, 100)
	if a.ActiveTaskID == t.ID {
		a.ActiveTaskID = ""
	}
	if len(a.CurrentTasks) == 0 && a.Status == StatusWorking {
		a.Status = StatusIdle
	}
}

func (a *Agent) removeTask(id string) {
	for i, cur := range a.CurrentTasks {
		if cur == id {
			a.CurrentTasks = append(a.CurrentTasks[:i], a.CurrentTasks[i+1:]...)
			return
		}
	}
}

// CollaborationResponse is the agent's stance on a proposed contract, for the
// caller to feed into the negotiation.
type CollaborationResponse struct {
	Stance     domain.Stance
	Message    string
	Confidence float64
}

// RespondToCollaboration decides a stance from trust toward the initiator and
// the agent's own workload.
func (a *Agent) RespondToCollaboration(c *domain.Contract) CollaborationResponse {
	trust := a.TrustToward(c.Proposal.InitiatorID)
	switch {
	case trust > 60 && a.Workload < 70:
		return CollaborationResponse{
			Stance:     domain.StanceAccept,
			Message:    fmt.Sprintf("%s is in; capacity available", a.Name),
			Confidence: 0.85,
		}
	case a.Workload < 70:
		return CollaborationResponse{
			Stance:     domain.StanceAmend,
			Message:    fmt.Sprintf("%s can help with more resources allocated", a.Name),
			Confidence: 0.55,
		}
	default:
		return CollaborationResponse{
			Stance:     domain.StanceReject,
			Message:    fmt.Sprintf("%s is at capacity", a.Name),
			Confidence: 0.7,
		}
	}
}

// TrustToward returns trust for a peer, defaulting to neutral for strangers.
func (a *Agent) TrustToward(peerID string) float64 {
	if rel, ok := a.Relationships[peerID]; ok {
		return rel.Trust
	}
	return defaultTrust
}

// RecordInteraction bumps the relationship with a peer, creating it at neutral
// trust on first contact.
func (a *Agent) RecordInteraction(peerID string, trustDelta float64, tick int64) {
	rel, ok := a.Relationships[peerID]
	if !ok {
		rel = &Relationship{Trust: defaultTrust}
		a.Relationships[peerID] = rel
	}
	rel.Trust = clamp(rel.Trust+trustDelta, 0, 100)
	rel.CollaborationCount++
	rel.LastInteractionTick = tick
}

func (a *Agent) maxTasks() int {
	if a.MaxTasks > 0 {
		return a.MaxTasks
	}
	return DefaultMaxTasks
}

// Normalize clamps restored state into valid ranges; used after loading a
// snapshot from the store.
func (a *Agent) Normalize() {
	a.Energy = clamp(a.Energy, 0, 100)
	a.Workload = clamp(a.Workload, 0, 100)
	if a.MaxTasks == 0 {
		a.MaxTasks = DefaultMaxTasks
	}
	if a.Relationships == nil {
		a.Relationships = map[string]*Relationship{}
	}
	if a.Capabilities == nil {
		a.Capabilities = map[string]float64{}
	}
	if a.Status == "" {
		a.Status = StatusIdle
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
