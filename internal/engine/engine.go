// Package engine runs the tick loop: it feeds scenario events in, allocates
// pending tasks, advances every agent, and drives contracts through
// negotiation, escalation and execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"crewline/internal/agent"
	"crewline/internal/broadcast"
	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/scenario"
)

// Store is the persistence surface the engine needs. repo.Repo satisfies it.
type Store interface {
	SaveAgentStates(ctx context.Context, agents []*agent.Agent) error
	LoadAgentStates(ctx context.Context) ([]*agent.Agent, error)
	SaveTask(ctx context.Context, t domain.Task) error
	LoadTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error)
	SaveContract(ctx context.Context, c domain.Contract) error
	LoadContracts(ctx context.Context) ([]domain.Contract, error)
	LogEvent(ctx context.Context, eventType string, payload any, tick int64) error
	Stats(ctx context.Context) (map[string]int64, error)
}

// ErrQueueFull is returned by InjectEvent when the inbox is saturated.
var ErrQueueFull = errors.New("event queue full")

const injectQueueSize = 64

// Engine owns all mutable simulation state. One mutex guards everything; a
// tick runs entirely under it, so state between ticks is always consistent.
type Engine struct {
	mu sync.Mutex

	cfg        *config.Config
	rng        *rand.Rand
	log        *slog.Logger
	store      Store
	pub        broadcast.Publisher
	gen        scenario.Generator
	allocator  Allocator
	negotiator *Negotiator

	agents     map[string]*agent.Agent
	agentOrder []string
	tasks      map[string]*domain.Task

	pending      []string
	waitingSince map[string]int64
	starved      map[string]bool

	tick     int64
	paused   bool
	running  bool
	interval time.Duration

	inject chan domain.Event
	stopCh chan struct{}
	done   chan struct{}

	counters Counters
}

// Counters are runtime totals since process start; they are not persisted.
type Counters struct {
	TasksCreated     int64 `json:"tasks_created"`
	TasksCompleted   int64 `json:"tasks_completed"`
	TasksDelegated   int64 `json:"tasks_delegated"`
	ContractsCreated int64 `json:"contracts_created"`
	ConsensusReached int64 `json:"consensus_reached"`
	Escalations      int64 `json:"escalations"`
	StarvedTasks     int64 `json:"starved_tasks"`
}

// New builds an engine from config. store and pub may be nil (no persistence,
// no broadcasting); gen may be nil for a silent simulation driven only by
// injected events.
func New(cfg *config.Config, store Store, pub broadcast.Publisher, gen scenario.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = broadcast.Discard{}
	}
	e := &Engine{
		cfg:          cfg,
		rng:          rand.New(rand.NewSource(cfg.Simulation.Seed)),
		log:          logger,
		store:        store,
		pub:          pub,
		gen:          gen,
		allocator:    NewAllocator(cfg.TaskTypes),
		negotiator:   NewNegotiator(),
		agents:       map[string]*agent.Agent{},
		tasks:        map[string]*domain.Task{},
		waitingSince: map[string]int64{},
		starved:      map[string]bool{},
		interval:     time.Duration(cfg.Simulation.TickIntervalMS) * time.Millisecond,
		inject:       make(chan domain.Event, injectQueueSize),
	}
	for _, r := range cfg.Roster {
		a := agent.New(r.ID, r.Name, r.Role, r.Capabilities, agent.Personality{
			Proactivity:   r.Personality.Proactivity,
			Thoroughness:  r.Personality.Thoroughness,
			Speed:         r.Personality.Speed,
			Collaboration: r.Personality.Collaboration,
			RiskTolerance: r.Personality.RiskTolerance,
		})
		if cfg.Simulation.MaxTasksPerAgent > 0 {
			a.MaxTasks = cfg.Simulation.MaxTasksPerAgent
		}
		e.agents[a.ID] = a
		e.agentOrder = append(e.agentOrder, a.ID)
	}
	return e
}

// Restore overlays persisted state onto the configured roster and reloads
// unfinished tasks. Agents in the store but absent from the roster are
// ignored; the roster is the source of truth for who exists.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return errors.New("restore requires a store")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	saved, err := e.store.LoadAgentStates(ctx)
	if err != nil {
		return fmt.Errorf("load agent states: %w", err)
	}
	for _, s := range saved {
		if _, ok := e.agents[s.ID]; ok {
			e.agents[s.ID] = s
		}
	}
	for _, status := range []domain.TaskStatus{domain.TaskPending, domain.TaskAssigned, domain.TaskInProgress} {
		tasks, err := e.store.LoadTasksByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("load %s tasks: %w", status, err)
		}
		for _, t := range tasks {
			tt := t
			e.tasks[tt.ID] = &tt
			if tt.Status == domain.TaskPending {
				e.pending = append(e.pending, tt.ID)
				e.waitingSince[tt.ID] = tt.CreatedTick
			}
			if tt.CreatedTick > e.tick {
				e.tick = tt.CreatedTick
			}
			if tt.AssignedTick > e.tick {
				e.tick = tt.AssignedTick
			}
		}
	}
	contracts, err := e.store.LoadContracts(ctx)
	if err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}
	for _, c := range contracts {
		e.negotiator.Restore(c)
	}
	e.log.Info("state restored", "agents", len(saved), "tasks", len(e.tasks),
		"contracts", len(contracts), "tick", e.tick)
	return nil
}

// Start launches the background tick loop. It is a no-op when already running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(e.stopCh, e.done)
	e.log.Info("simulation started", "project", e.cfg.Simulation.ProjectID,
		"agents", len(e.agentOrder), "interval", e.interval)
}

func (e *Engine) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-time.After(e.currentInterval()):
			e.Tick()
		}
	}
}

func (e *Engine) currentInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.interval <= 0 {
		return time.Second
	}
	return e.interval
}

// Stop halts the loop and persists final state. Safe to call when not running.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	done := e.done
	e.mu.Unlock()

	<-done
	if err := e.persist(ctx); err != nil {
		return err
	}
	e.log.Info("simulation stopped", "tick", e.CurrentTick())
	return nil
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.log.Info("simulation paused", "tick", e.tick)
	}
}

func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.log.Info("simulation resumed", "tick", e.tick)
	}
}

// SetSpeed scales the tick interval: 2.0 runs twice as fast as configured.
func (e *Engine) SetSpeed(multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("speed multiplier must be > 0, got %v", multiplier)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	base := time.Duration(e.cfg.Simulation.TickIntervalMS) * time.Millisecond
	e.interval = time.Duration(float64(base) / multiplier)
	e.log.Info("speed changed", "multiplier", multiplier, "interval", e.interval)
	return nil
}

// InjectEvent queues an external event for the next tick. Non-blocking; a full
// queue is reported to the caller rather than stalling the producer.
func (e *Engine) InjectEvent(ev domain.Event) error {
	select {
	case e.inject <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// TriggerScenario fires a named scripted event immediately.
func (e *Engine) TriggerScenario(id string) error {
	if e.gen == nil {
		return errors.New("no scenario generator configured")
	}
	ev, ok := e.gen.TriggerScenario(id)
	if !ok {
		return fmt.Errorf("scenario %s: not found", id)
	}
	return e.InjectEvent(ev)
}

// Tick advances the simulation by one step. Paused engines consume nothing and
// the tick counter does not move. Tests call this directly for synchronous
// stepping.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.tick++
	ctx := context.Background()

	for _, ev := range e.drainInjected() {
		e.dispatch(ctx, ev)
	}
	if e.gen != nil {
		for _, ev := range e.gen.Generate(e.tick) {
			e.dispatch(ctx, ev)
		}
	}

	e.allocatePending(ctx)

	var emitted []domain.Event
	for _, id := range e.agentOrder {
		a := e.agents[id]
		emitted = append(emitted, a.Update(e.tick, e.rng, e.lookupTask)...)
	}
	for _, ev := range emitted {
		e.dispatch(ctx, ev)
	}

	e.advanceContracts(ctx)
	e.checkStarvation(ctx)

	if n := e.cfg.Simulation.SnapshotEveryTicks; n > 0 && e.tick%n == 0 {
		e.publish("snapshot", e.statusLocked())
	}
	if n := e.cfg.Simulation.PersistEveryTicks; n > 0 && e.tick%n == 0 {
		if err := e.persistLocked(ctx); err != nil {
			e.log.Error("periodic persist failed", "tick", e.tick, "error", err)
		}
	}

	e.log.Debug("tick complete", "tick", e.tick,
		"pending", len(e.pending), "tasks", len(e.tasks),
		"contracts", len(e.negotiator.order))
}

// Advance runs n ticks synchronously; test helper.
func (e *Engine) Advance(n int) {
	for i := 0; i < n; i++ {
		e.Tick()
	}
}

func (e *Engine) drainInjected() []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev := <-e.inject:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (e *Engine) lookupTask(id string) *domain.Task {
	return e.tasks[id]
}

func (e *Engine) dispatch(ctx context.Context, ev domain.Event) {
	switch v := ev.(type) {
	case domain.NewTaskEvent:
		e.handleNewTask(ctx, v)
	case domain.TaskCompletedEvent:
		e.handleTaskCompleted(ctx, v)
	case domain.CollaborationRequestEvent:
		e.handleCollaborationRequest(ctx, v)
	case domain.DelegationEvent:
		e.handleDelegation(ctx, v)
	case domain.HumanInterventionEvent:
		e.handleHumanIntervention(ctx, v)
	default:
		e.log.Warn("unhandled event", "kind", ev.Kind())
	}
}

func (e *Engine) handleNewTask(ctx context.Context, ev domain.NewTaskEvent) {
	t := ev.Task
	if t.ID == "" {
		e.log.Warn("dropping task without id", "title", t.Title)
		return
	}
	if _, exists := e.tasks[t.ID]; exists {
		return
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if t.CreatedTick == 0 {
		t.CreatedTick = e.tick
	}
	e.tasks[t.ID] = &t
	e.pending = append(e.pending, t.ID)
	e.waitingSince[t.ID] = e.tick
	e.counters.TasksCreated++

	e.logEvent(ctx, string(domain.EventNewTask), ev)
	e.publish("task.created", t)
	e.log.Info("task created", "task", t.ID, "title", t.Title, "priority", t.Priority)
}

func (e *Engine) handleTaskCompleted(ctx context.Context, ev domain.TaskCompletedEvent) {
	t, ok := e.tasks[ev.TaskID]
	if !ok {
		return
	}
	e.counters.TasksCompleted++

	// Finishing a task for someone builds trust both ways.
	if a := e.agents[ev.AgentID]; a != nil && t.CreatorID != "" && t.CreatorID != ev.AgentID {
		a.RecordInteraction(t.CreatorID, 2, e.tick)
		if creator := e.agents[t.CreatorID]; creator != nil {
			creator.RecordInteraction(ev.AgentID, 3, e.tick)
		}
	}
	e.closeContractsForTask(ctx, t.ID, ev.AgentID)

	e.saveTask(ctx, *t)
	e.logEvent(ctx, string(domain.EventTaskCompleted), ev)
	e.publish("task.completed", ev)
	e.log.Info("task completed", "task", t.ID, "agent", ev.AgentID,
		"duration", t.ActualDuration)
}

// closeContractsForTask finishes executing contracts bound to a task that just
// completed: the assigned agent submits the outcome as a deliverable and it is
// approved in the same step.
func (e *Engine) closeContractsForTask(ctx context.Context, taskID, agentID string) {
	for _, c := range e.negotiator.Contracts() {
		if c.Context.TaskID != taskID || c.Status != domain.ContractExecuting {
			continue
		}
		if _, err := e.negotiator.SubmitDeliverable(c.ID, agentID, "task "+taskID+" completed", e.tick); err != nil {
			e.log.Warn("deliverable submit failed", "contract", c.ID, "error", err)
			continue
		}
		last := c.Execution.Deliverables[len(c.Execution.Deliverables)-1]
		if _, err := e.negotiator.VerifyDeliverable(c.ID, last.ID, true, "task outcome accepted", e.tick); err != nil {
			e.log.Warn("deliverable verify failed", "contract", c.ID, "error", err)
			continue
		}
		e.saveContract(ctx, *c)
		e.publish("contract.updated", c)
	}
}

// handleCollaborationRequest opens a joint-work contract between the
// requesting agent and its most trusted available peer, then runs both initial
// stances through the negotiation in the same tick.
func (e *Engine) handleCollaborationRequest(ctx context.Context, ev domain.CollaborationRequestEvent) {
	requester := e.agents[ev.AgentID]
	if requester == nil {
		return
	}
	partner := e.pickPartner(requester)

	c := e.negotiator.CreateContract(domain.ContractJointWork,
		domain.ContractContext{Description: ev.Reason, TaskID: ev.TaskID},
		domain.Proposal{InitiatorID: requester.ID, Content: ev.Reason, Tick: e.tick})
	e.counters.ContractsCreated++
	requester.Stats.CollaborationsInitiated++

	if partner != nil {
		resp := partner.RespondToCollaboration(c)
		if _, err := e.negotiator.SubmitNegotiation(c.ID, domain.NegotiationRound{
			AgentID:    partner.ID,
			Stance:     resp.Stance,
			Content:    resp.Message,
			Confidence: resp.Confidence,
			Tick:       e.tick,
		}); err != nil {
			e.log.Warn("negotiation round rejected", "contract", c.ID, "error", err)
		}
		if _, err := e.negotiator.SubmitNegotiation(c.ID, domain.NegotiationRound{
			AgentID:    requester.ID,
			Stance:     domain.StanceAccept,
			Content:    "standing by the request",
			Confidence: 0.9,
			Tick:       e.tick,
		}); err != nil {
			e.log.Warn("negotiation round rejected", "contract", c.ID, "error", err)
		}

		switch resp.Stance {
		case domain.StanceAccept:
			partner.Stats.CollaborationsParticipated++
			requester.RecordInteraction(partner.ID, 3, e.tick)
			partner.RecordInteraction(requester.ID, 3, e.tick)
		case domain.StanceReject:
			requester.RecordInteraction(partner.ID, -1, e.tick)
		default:
			requester.RecordInteraction(partner.ID, 1, e.tick)
		}
		if c.Status == domain.ContractExecuting {
			e.counters.ConsensusReached++
		}
	}

	e.saveContract(ctx, *c)
	e.logEvent(ctx, string(domain.EventCollaborationRequest), ev)
	e.publish("collaboration.requested", c)
	e.log.Info("collaboration requested", "task", ev.TaskID,
		"agent", ev.AgentID, "contract", c.ID, "status", c.Status)
}

// pickPartner chooses the peer the requester trusts most among agents with
// spare capacity. Roster order breaks ties, so partner selection is
// deterministic.
func (e *Engine) pickPartner(requester *agent.Agent) *agent.Agent {
	var best *agent.Agent
	var bestTrust float64
	for _, id := range e.agentOrder {
		a := e.agents[id]
		if a.ID == requester.ID || a.Status == agent.StatusOffline || a.Workload >= 70 {
			continue
		}
		trust := requester.TrustToward(a.ID)
		if best == nil || trust > bestTrust {
			best = a
			bestTrust = trust
		}
	}
	return best
}

func (e *Engine) handleDelegation(ctx context.Context, ev domain.DelegationEvent) {
	t, ok := e.tasks[ev.TaskID]
	if !ok || t.Status == domain.TaskCompleted {
		return
	}
	from := e.agents[ev.FromAgentID]
	if from == nil || t.AssigneeID != from.ID {
		return
	}
	from.DropTask(t)
	from.Stats.TasksDelegated++
	e.counters.TasksDelegated++
	t.AssigneeID = ""

	assigned := false
	if to := e.agents[ev.ToAgentID]; to != nil {
		if err := to.AssignTask(t, e.tick); err == nil {
			assigned = true
		}
	}
	if !assigned {
		t.Status = domain.TaskPending
		e.pending = append(e.pending, t.ID)
		e.waitingSince[t.ID] = e.tick
	}

	e.saveTask(ctx, *t)
	e.logEvent(ctx, string(domain.EventDelegation), ev)
	e.publish("task.delegated", ev)
	e.log.Info("task delegated", "task", t.ID, "from", ev.FromAgentID,
		"to", t.AssigneeID, "requeued", !assigned)
}

func (e *Engine) handleHumanIntervention(ctx context.Context, ev domain.HumanInterventionEvent) {
	req, err := e.negotiator.ResolveIntervention(ev.RequestID, ev.Decision, e.tick)
	if err != nil {
		e.log.Warn("intervention resolution failed", "request", ev.RequestID, "error", err)
		return
	}
	if c, ok := e.negotiator.Contract(req.ContractID); ok {
		e.saveContract(ctx, *c)
		e.publish("contract.updated", c)
	}
	e.logEvent(ctx, string(domain.EventHumanIntervention), ev)
	e.publish("intervention.resolved", req)
	e.log.Info("intervention resolved", "request", req.ID,
		"contract", req.ContractID, "decision", ev.Decision)
}

// allocatePending tries to place every queued task. Unplaceable tasks stay in
// the queue and are retried next tick; order is FIFO so old tasks get first
// pick of freed capacity.
func (e *Engine) allocatePending(ctx context.Context) {
	if len(e.pending) == 0 {
		return
	}
	roster := make([]*agent.Agent, 0, len(e.agentOrder))
	for _, id := range e.agentOrder {
		roster = append(roster, e.agents[id])
	}

	var remaining []string
	for _, taskID := range e.pending {
		t, ok := e.tasks[taskID]
		if !ok || t.Status != domain.TaskPending {
			delete(e.waitingSince, taskID)
			delete(e.starved, taskID)
			continue
		}
		a := e.allocator.Pick(t, roster, e.tick)
		if a == nil {
			remaining = append(remaining, taskID)
			continue
		}
		if err := a.AssignTask(t, e.tick); err != nil {
			remaining = append(remaining, taskID)
			continue
		}
		delete(e.waitingSince, taskID)
		delete(e.starved, taskID)
		e.saveTask(ctx, *t)
		e.publish("task.assigned", t)
		e.log.Info("task assigned", "task", t.ID, "agent", a.ID, "tick", e.tick)
	}
	e.pending = remaining
}

// checkStarvation flags tasks that waited too long, once per task. Flagged
// tasks stay queued; the rotation bonus and tie-breaks are what eventually
// place them.
func (e *Engine) checkStarvation(ctx context.Context) {
	threshold := e.cfg.Simulation.StarvationAfterTicks
	if threshold <= 0 {
		return
	}
	for _, taskID := range e.pending {
		since, ok := e.waitingSince[taskID]
		if !ok || e.starved[taskID] || e.tick-since < threshold {
			continue
		}
		e.starved[taskID] = true
		e.counters.StarvedTasks++
		e.logEvent(ctx, "task_starved", map[string]any{"task_id": taskID, "waiting_ticks": e.tick - since})
		e.log.Warn("task starving", "task", taskID, "waiting_ticks", e.tick-since)
	}
}

// advanceContracts escalates negotiations that have gone quiet.
func (e *Engine) advanceContracts(ctx context.Context) {
	for _, c := range e.negotiator.StalledContracts(e.tick, e.cfg.Simulation.NegotiationStallTicks) {
		req, err := e.negotiator.RequestIntervention(c.ID, c.Proposal.InitiatorID,
			fmt.Sprintf("negotiation stalled for %d ticks", e.tick-c.LastRoundTick),
			nil, domain.PriorityHigh, e.tick)
		if err != nil {
			e.log.Warn("escalation failed", "contract", c.ID, "error", err)
			continue
		}
		e.counters.Escalations++
		e.saveContract(ctx, *c)
		e.logEvent(ctx, "contract_escalated", map[string]any{"contract_id": c.ID, "request_id": req.ID})
		e.publish("intervention.requested", req)
		e.log.Warn("contract escalated", "contract", c.ID, "request", req.ID)
	}
}

// AgentView is a read-only projection for status reports.
type AgentView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Status         string   `json:"status"`
	Energy         float64  `json:"energy"`
	Workload       float64  `json:"workload"`
	CurrentTasks   []string `json:"current_tasks,omitempty"`
	TasksCompleted int      `json:"tasks_completed"`
}

// Status is a consistent point-in-time snapshot of the simulation.
type Status struct {
	ProjectID            string      `json:"project_id"`
	Tick                 int64       `json:"tick"`
	Paused               bool        `json:"paused"`
	Running              bool        `json:"running"`
	Agents               []AgentView `json:"agents"`
	PendingTasks         int         `json:"pending_tasks"`
	ActiveTasks          int         `json:"active_tasks"`
	OpenContracts        int         `json:"open_contracts"`
	PendingInterventions int         `json:"pending_interventions"`
	Counters             Counters    `json:"counters"`
}

func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	s := Status{
		ProjectID:            e.cfg.Simulation.ProjectID,
		Tick:                 e.tick,
		Paused:               e.paused,
		Running:              e.running,
		PendingTasks:         len(e.pending),
		PendingInterventions: len(e.negotiator.PendingInterventions()),
		Counters:             e.counters,
	}
	for _, id := range e.agentOrder {
		a := e.agents[id]
		view := AgentView{
			ID:             a.ID,
			Name:           a.Name,
			Role:           a.Role,
			Status:         string(a.Status),
			Energy:         a.Energy,
			Workload:       a.Workload,
			TasksCompleted: a.Stats.TasksCompleted,
		}
		view.CurrentTasks = append(view.CurrentTasks, a.CurrentTasks...)
		s.Agents = append(s.Agents, view)
	}
	for _, t := range e.tasks {
		if t.Status == domain.TaskInProgress || t.Status == domain.TaskAssigned {
			s.ActiveTasks++
		}
	}
	for _, c := range e.negotiator.Contracts() {
		if c.Status != domain.ContractCompleted {
			s.OpenContracts++
		}
	}
	return s
}

// GetStats merges runtime counters with store row counts when a store is
// attached.
func (e *Engine) GetStats(ctx context.Context) (map[string]int64, error) {
	e.mu.Lock()
	stats := map[string]int64{
		"tick":              e.tick,
		"tasks_created":     e.counters.TasksCreated,
		"tasks_completed":   e.counters.TasksCompleted,
		"tasks_delegated":   e.counters.TasksDelegated,
		"contracts_created": e.counters.ContractsCreated,
		"consensus_reached": e.counters.ConsensusReached,
		"escalations":       e.counters.Escalations,
		"starved_tasks":     e.counters.StarvedTasks,
		"expired_deadlines": e.negotiator.ExpiredDeadlines(),
	}
	store := e.store
	e.mu.Unlock()

	if store != nil {
		persisted, err := store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range persisted {
			stats["db_"+k] = v
		}
	}
	return stats, nil
}

// CurrentTick returns the tick counter.
func (e *Engine) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Agents returns the roster in configured order.
func (e *Engine) Agents() []*agent.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*agent.Agent, 0, len(e.agentOrder))
	for _, id := range e.agentOrder {
		out = append(out, e.agents[id])
	}
	return out
}

// Task returns a copy of the task, if known.
func (e *Engine) Task(id string) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Contracts returns copies of all contracts in creation order.
func (e *Engine) Contracts() []domain.Contract {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Contract, 0, len(e.negotiator.order))
	for _, c := range e.negotiator.Contracts() {
		out = append(out, *c)
	}
	return out
}

// PendingInterventions returns copies of unresolved escalations.
func (e *Engine) PendingInterventions() []domain.InterventionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.InterventionRequest
	for _, req := range e.negotiator.PendingInterventions() {
		out = append(out, *req)
	}
	return out
}

// Flush persists current state without stopping the loop.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persist(ctx)
}

// persist writes the full state under the lock.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistLocked(ctx)
}

func (e *Engine) persistLocked(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	roster := make([]*agent.Agent, 0, len(e.agentOrder))
	for _, id := range e.agentOrder {
		roster = append(roster, e.agents[id])
	}
	if err := e.store.SaveAgentStates(ctx, roster); err != nil {
		return fmt.Errorf("persist agents: %w", err)
	}
	for _, t := range e.tasks {
		if err := e.store.SaveTask(ctx, *t); err != nil {
			return fmt.Errorf("persist task %s: %w", t.ID, err)
		}
	}
	for _, c := range e.negotiator.Contracts() {
		if err := e.store.SaveContract(ctx, *c); err != nil {
			return fmt.Errorf("persist contract %s: %w", c.ID, err)
		}
	}
	return nil
}

func (e *Engine) saveTask(ctx context.Context, t domain.Task) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTask(ctx, t); err != nil {
		e.log.Error("save task failed", "task", t.ID, "error", err)
	}
}

func (e *Engine) saveContract(ctx context.Context, c domain.Contract) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveContract(ctx, c); err != nil {
		e.log.Error("save contract failed", "contract", c.ID, "error", err)
	}
}

func (e *Engine) logEvent(ctx context.Context, eventType string, payload any) {
	if e.store == nil {
		return
	}
	if err := e.store.LogEvent(ctx, eventType, payload, e.tick); err != nil {
		e.log.Error("event log write failed", "type", eventType, "error", err)
	}
}

func (e *Engine) publish(topic string, message any) {
	if err := e.pub.Publish(topic, message); err != nil {
		e.log.Warn("broadcast failed", "topic", topic, "error", err)
	}
}
