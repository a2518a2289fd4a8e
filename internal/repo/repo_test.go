package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewline/internal/agent"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
	return r, context.Background()
}

func TestAgentStateRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	a := agent.New("ada", "Ada", "engineer", map[string]float64{"backend": 80}, agent.Personality{Thoroughness: 70})
	a.Energy = 63.5
	a.Workload = 12
	a.Stats.TasksCompleted = 4
	a.RecordInteraction("bram", 10, 9)

	if err := r.SaveAgentStates(ctx, []*agent.Agent{a}); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := r.LoadAgentStates(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("want 1 agent, got %d", len(loaded))
	}
	got := loaded[0]
	if got.ID != "ada" || got.Energy != 63.5 || got.Stats.TasksCompleted != 4 {
		t.Fatalf("state drifted: %+v", got)
	}
	if got.TrustToward("bram") != 60 {
		t.Fatalf("relationships lost: %v", got.TrustToward("bram"))
	}

	// second save must overwrite, not duplicate
	a.Energy = 70
	if err := r.SaveAgentStates(ctx, []*agent.Agent{a}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	loaded, _ = r.LoadAgentStates(ctx)
	if len(loaded) != 1 || loaded[0].Energy != 70 {
		t.Fatalf("upsert failed: %+v", loaded)
	}
}

func TestTaskRoundTripAndStatusQuery(t *testing.T) {
	r, ctx := newTestRepo(t)
	tasks := []domain.Task{
		{ID: "t2", Title: "second", Type: "chore", Priority: domain.PriorityLow, Status: domain.TaskPending, EstimatedDuration: 10, CreatedTick: 5},
		{ID: "t1", Title: "first", Type: "chore", Priority: domain.PriorityHigh, Status: domain.TaskPending, EstimatedDuration: 20, CreatedTick: 2},
		{ID: "t3", Title: "done", Type: "chore", Priority: domain.PriorityMedium, Status: domain.TaskCompleted, EstimatedDuration: 15, CreatedTick: 1, AssignedTick: 2, CompletedTick: 9, ActualDuration: 7, AssigneeID: "ada", CollabRequested: true},
	}
	for _, task := range tasks {
		if err := r.SaveTask(ctx, task); err != nil {
			t.Fatalf("save %s: %v", task.ID, err)
		}
	}

	pending, err := r.LoadTasksByStatus(ctx, domain.TaskPending)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "t1" || pending[1].ID != "t2" {
		t.Fatalf("pending must come back in creation order: %+v", pending)
	}

	got, err := r.GetTask(ctx, "t3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssigneeID != "ada" || got.ActualDuration != 7 || !got.CollabRequested {
		t.Fatalf("task fields lost: %+v", got)
	}

	if _, err := r.GetTask(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestContractRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	c := domain.Contract{
		ID:     "contract-1",
		Type:   domain.ContractJointWork,
		Status: domain.ContractNegotiating,
		Context: domain.ContractContext{
			Description: "help on t1",
			TaskID:      "t1",
		},
		Proposal: domain.Proposal{InitiatorID: "ada", Content: "split work", Tick: 3},
		Rounds: []domain.NegotiationRound{
			{Round: 1, AgentID: "bram", Stance: domain.StanceAmend, Confidence: 0.55, Tick: 3},
		},
		Audit:         domain.Audit{CreatedTick: 3},
		LastRoundTick: 3,
	}
	if err := r.SaveContract(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := r.GetContract(ctx, "contract-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ContractNegotiating || len(got.Rounds) != 1 || got.Rounds[0].AgentID != "bram" {
		t.Fatalf("contract drifted: %+v", got)
	}

	c.Status = domain.ContractEscalated
	if err := r.SaveContract(ctx, c); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _ = r.GetContract(ctx, "contract-1")
	if got.Status != domain.ContractEscalated {
		t.Fatalf("upsert failed: %s", got.Status)
	}

	if _, err := r.GetContract(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLoadContractsKeepsInsertionOrder(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, c := range []domain.Contract{
		{ID: "contract-2", Type: domain.ContractJointWork, Status: domain.ContractCompleted, Proposal: domain.Proposal{InitiatorID: "ada"}},
		{ID: "contract-10", Type: domain.ContractJointWork, Status: domain.ContractNegotiating, Proposal: domain.Proposal{InitiatorID: "bram"}},
		{ID: "contract-3", Type: domain.ContractJointWork, Status: domain.ContractExecuting, Proposal: domain.Proposal{InitiatorID: "cleo"}},
	} {
		if err := r.SaveContract(ctx, c); err != nil {
			t.Fatalf("save %s: %v", c.ID, err)
		}
	}

	got, err := r.LoadContracts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 contracts, got %d", len(got))
	}
	// insertion order, not lexicographic id order
	if got[0].ID != "contract-2" || got[1].ID != "contract-10" || got[2].ID != "contract-3" {
		t.Fatalf("order wrong: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[1].Proposal.InitiatorID != "bram" || got[1].Status != domain.ContractNegotiating {
		t.Fatalf("payload drifted: %+v", got[1])
	}
}

func TestEventDiary(t *testing.T) {
	r, ctx := newTestRepo(t)
	for i := 0; i < 5; i++ {
		if err := r.LogEvent(ctx, "new_task", map[string]any{"i": i}, int64(i)); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := r.LogEvent(ctx, "task_starved", map[string]any{"task_id": "t9"}, 10); err != nil {
		t.Fatalf("log: %v", err)
	}

	latest, err := r.LatestEvents(ctx, 3, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 3 || latest[0].Type != "task_starved" {
		t.Fatalf("want newest first, got %+v", latest)
	}

	starved, err := r.LatestEvents(ctx, 10, "task_starved")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(starved) != 1 || starved[0].Tick != 10 {
		t.Fatalf("type filter wrong: %+v", starved)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	r, ctx := newTestRepo(t)
	_ = r.SaveTask(ctx, domain.Task{ID: "t1", Title: "a", Type: "chore", Priority: domain.PriorityLow, Status: domain.TaskPending, EstimatedDuration: 5, CreatedTick: 1})
	_ = r.SaveTask(ctx, domain.Task{ID: "t2", Title: "b", Type: "chore", Priority: domain.PriorityLow, Status: domain.TaskCompleted, EstimatedDuration: 5, CreatedTick: 1})
	_ = r.SaveContract(ctx, domain.Contract{ID: "c1", Type: domain.ContractJointWork, Status: domain.ContractExecuting})

	stats, err := r.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["tasks"] != 2 || stats["tasks_pending"] != 1 || stats["tasks_completed"] != 1 {
		t.Fatalf("task counts wrong: %v", stats)
	}
	if stats["contracts"] != 1 || stats["contracts_executing"] != 1 {
		t.Fatalf("contract counts wrong: %v", stats)
	}
}
