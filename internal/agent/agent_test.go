package agent_test

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"crewline/internal/agent"
	"crewline/internal/domain"
)

func newAgent() *agent.Agent {
	return agent.New("a1", "Ada", "engineer",
		map[string]float64{"backend": 80},
		agent.Personality{Proactivity: 0, Thoroughness: 100, Speed: 100, Collaboration: 50, RiskTolerance: 30})
}

func noTasks(string) *domain.Task { return nil }

func TestEnergyAndWorkloadStayBounded(t *testing.T) {
	a := newAgent()
	rng := rand.New(rand.NewSource(1))
	for tick := int64(1); tick <= 500; tick++ {
		a.Update(tick, rng, noTasks)
		if a.Energy < 0 || a.Energy > 100 {
			t.Fatalf("tick %d: energy out of range: %v", tick, a.Energy)
		}
		if a.Workload < 0 || a.Workload > 100 {
			t.Fatalf("tick %d: workload out of range: %v", tick, a.Workload)
		}
	}
	if a.Energy != 100 {
		t.Fatalf("idle agent should be at full energy, got %v", a.Energy)
	}
}

func TestIdleRegenerationAndActiveDrain(t *testing.T) {
	a := newAgent()
	a.Energy = 50
	a.Update(1, nil, noTasks)
	if math.Abs(a.Energy-50.5) > 1e-9 {
		t.Fatalf("idle regen: want 50.5, got %v", a.Energy)
	}
	a.Status = agent.StatusMeeting
	a.Update(2, nil, noTasks)
	if math.Abs(a.Energy-50.3) > 1e-9 {
		t.Fatalf("active drain: want 50.3, got %v", a.Energy)
	}
}

func TestCanAcceptTaskGates(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*agent.Agent)
		priority domain.TaskPriority
		want     bool
	}{
		{"idle fresh agent", func(a *agent.Agent) {}, domain.PriorityMedium, true},
		{"offline refuses everything", func(a *agent.Agent) { a.Status = agent.StatusOffline }, domain.PriorityUrgent, false},
		{"exhausted refuses", func(a *agent.Agent) { a.Energy = 14 }, domain.PriorityMedium, false},
		{"medium above ceiling", func(a *agent.Agent) { a.Workload = 45 }, domain.PriorityMedium, false},
		{"high tolerates more load", func(a *agent.Agent) { a.Workload = 55 }, domain.PriorityHigh, true},
		{"urgent tolerates heavy load", func(a *agent.Agent) { a.Workload = 84 }, domain.PriorityUrgent, true},
		{"urgent above ceiling", func(a *agent.Agent) { a.Workload = 95 }, domain.PriorityUrgent, false},
		{"working rejects non-urgent", func(a *agent.Agent) { a.Status = agent.StatusWorking }, domain.PriorityHigh, false},
		{"working accepts urgent", func(a *agent.Agent) { a.Status = agent.StatusWorking }, domain.PriorityUrgent, true},
		{"full queue refuses", func(a *agent.Agent) { a.CurrentTasks = []string{"t1", "t2", "t3"} }, domain.PriorityUrgent, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newAgent()
			tc.mutate(a)
			if got := a.CanAcceptTask(tc.priority); got != tc.want {
				t.Fatalf("CanAcceptTask(%s) = %v, want %v", tc.priority, got, tc.want)
			}
		})
	}
}

func TestAssignTaskActivatesAndStampsTask(t *testing.T) {
	a := newAgent()
	task := &domain.Task{ID: "t1", Title: "work", Priority: domain.PriorityMedium, Status: domain.TaskPending, EstimatedDuration: 40}
	if err := a.AssignTask(task, 7); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.Status != agent.StatusWorking || a.ActiveTaskID != "t1" {
		t.Fatalf("agent not working on t1: status=%s active=%s", a.Status, a.ActiveTaskID)
	}
	if a.Workload != 4 {
		t.Fatalf("workload share: want 4, got %v", a.Workload)
	}
	if task.Status != domain.TaskAssigned || task.AssigneeID != "a1" || task.AssignedTick != 7 {
		t.Fatalf("task not stamped: %+v", task)
	}
	if a.LastAssignedTick != 7 {
		t.Fatalf("last assigned tick: want 7, got %d", a.LastAssignedTick)
	}
}

func TestTaskStatusChain(t *testing.T) {
	a := newAgent()
	task := &domain.Task{ID: "t1", Title: "work", Priority: domain.PriorityMedium, Status: domain.TaskPending, EstimatedDuration: 40, CollabRequested: true}
	if err := a.AssignTask(task, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Status != domain.TaskAssigned {
		t.Fatalf("after assignment: want %s, got %s", domain.TaskAssigned, task.Status)
	}
	lookup := func(string) *domain.Task { return task }
	a.Update(2, nil, lookup)
	if task.Status != domain.TaskInProgress {
		t.Fatalf("first work tick: want %s, got %s", domain.TaskInProgress, task.Status)
	}
	for tick := int64(3); tick < 200 && task.Status != domain.TaskCompleted; tick++ {
		a.Update(tick, nil, lookup)
	}
	if task.Status != domain.TaskCompleted {
		t.Fatalf("task never completed: %+v", task)
	}
}

func TestAssignTaskRefusedWhenOverloaded(t *testing.T) {
	a := newAgent()
	a.Workload = 90
	task := &domain.Task{ID: "t1", Priority: domain.PriorityMedium, EstimatedDuration: 10}
	if err := a.AssignTask(task, 1); err == nil {
		t.Fatal("expected refusal")
	}
	if task.AssigneeID != "" || task.Status != "" {
		t.Fatalf("refused task must not be touched: %+v", task)
	}
}

func TestCollaborationRequestedExactlyOnce(t *testing.T) {
	a := newAgent()
	task := &domain.Task{ID: "t1", Title: "deep work", Priority: domain.PriorityMedium, EstimatedDuration: 40, Progress: 48}
	if err := a.AssignTask(task, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	lookup := func(id string) *domain.Task { return task }

	var collabs int
	for tick := int64(2); tick < 10 && task.Status != domain.TaskCompleted; tick++ {
		for _, ev := range a.Update(tick, nil, lookup) {
			if ev.Kind() == domain.EventCollaborationRequest {
				collabs++
			}
		}
	}
	if collabs != 1 {
		t.Fatalf("collaboration must fire once, got %d", collabs)
	}
	if !task.CollabRequested {
		t.Fatal("task should remember the request")
	}
}

func TestTaskCompletionReleasesAgent(t *testing.T) {
	a := newAgent()
	task := &domain.Task{ID: "t1", Title: "almost done", Priority: domain.PriorityMedium, EstimatedDuration: 40, Progress: 97, CollabRequested: true}
	if err := a.AssignTask(task, 3); err != nil {
		t.Fatalf("assign: %v", err)
	}
	lookup := func(id string) *domain.Task { return task }

	events := a.Update(4, nil, lookup)
	if len(events) != 1 || events[0].Kind() != domain.EventTaskCompleted {
		t.Fatalf("want one completion event, got %v", events)
	}
	if task.Status != domain.TaskCompleted || task.Progress != 100 {
		t.Fatalf("task not completed: %+v", task)
	}
	if task.CompletedTick != 4 || task.ActualDuration != 1 {
		t.Fatalf("completion stamps wrong: tick=%d duration=%d", task.CompletedTick, task.ActualDuration)
	}
	if a.Status != agent.StatusIdle || a.ActiveTaskID != "" || len(a.CurrentTasks) != 0 {
		t.Fatalf("agent not released: %+v", a)
	}
	if a.Stats.TasksCompleted != 1 {
		t.Fatalf("stats not bumped: %+v", a.Stats)
	}
}

func TestMultitaskingSlowsProgress(t *testing.T) {
	solo := newAgent()
	soloTask := &domain.Task{ID: "t1", Priority: domain.PriorityUrgent, EstimatedDuration: 10}
	if err := solo.AssignTask(soloTask, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}

	multi := newAgent()
	multiTask := &domain.Task{ID: "t1", Priority: domain.PriorityUrgent, EstimatedDuration: 10}
	other := &domain.Task{ID: "t2", Priority: domain.PriorityUrgent, EstimatedDuration: 10}
	if err := multi.AssignTask(multiTask, 1); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := multi.AssignTask(other, 1); err != nil {
		t.Fatalf("assign second: %v", err)
	}

	solo.Update(2, nil, func(string) *domain.Task { return soloTask })
	multi.Update(2, nil, func(string) *domain.Task { return multiTask })
	if multiTask.Progress >= soloTask.Progress {
		t.Fatalf("multitasking should be slower: solo=%v multi=%v", soloTask.Progress, multiTask.Progress)
	}
}

func TestRespondToCollaboration(t *testing.T) {
	contract := &domain.Contract{Proposal: domain.Proposal{InitiatorID: "peer"}}

	a := newAgent()
	a.RecordInteraction("peer", 20, 1) // trust 70
	if resp := a.RespondToCollaboration(contract); resp.Stance != domain.StanceAccept {
		t.Fatalf("trusted peer with capacity: want accept, got %s", resp.Stance)
	}

	b := newAgent()
	if resp := b.RespondToCollaboration(contract); resp.Stance != domain.StanceAmend {
		t.Fatalf("neutral trust with capacity: want amend, got %s", resp.Stance)
	}

	c := newAgent()
	c.Workload = 80
	if resp := c.RespondToCollaboration(contract); resp.Stance != domain.StanceReject {
		t.Fatalf("overloaded: want reject, got %s", resp.Stance)
	}
}

func TestTrustDefaultsAndClamping(t *testing.T) {
	a := newAgent()
	if got := a.TrustToward("stranger"); got != 50 {
		t.Fatalf("stranger trust: want 50, got %v", got)
	}
	a.RecordInteraction("peer", 70, 1)
	if got := a.TrustToward("peer"); got != 100 {
		t.Fatalf("trust must clamp at 100, got %v", got)
	}
	a.RecordInteraction("peer", -250, 2)
	if got := a.TrustToward("peer"); got != 0 {
		t.Fatalf("trust must clamp at 0, got %v", got)
	}
	if a.Relationships["peer"].CollaborationCount != 2 {
		t.Fatalf("interaction count: want 2, got %d", a.Relationships["peer"].CollaborationCount)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := newAgent()
	a.RecordInteraction("peer", 10, 5)
	task := &domain.Task{ID: "t1", Priority: domain.PriorityMedium, EstimatedDuration: 20}
	if err := a.AssignTask(task, 6); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a.Stats.TasksCompleted = 3

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored agent.Agent
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored.Normalize()

	if restored.ID != a.ID || restored.Status != a.Status || restored.ActiveTaskID != "t1" {
		t.Fatalf("identity lost: %+v", restored)
	}
	if restored.TrustToward("peer") != 60 {
		t.Fatalf("relationship lost: trust=%v", restored.TrustToward("peer"))
	}
	if restored.Stats.TasksCompleted != 3 || len(restored.CurrentTasks) != 1 {
		t.Fatalf("state lost: %+v", restored)
	}
}

func TestNormalizeRepairsBadSnapshot(t *testing.T) {
	a := agent.Agent{ID: "x", Energy: 250, Workload: -5}
	a.Normalize()
	if a.Energy != 100 || a.Workload != 0 {
		t.Fatalf("normalize did not clamp: %+v", a)
	}
	if a.MaxTasks != agent.DefaultMaxTasks || a.Relationships == nil || a.Status != agent.StatusIdle {
		t.Fatalf("normalize did not fill defaults: %+v", a)
	}
}
