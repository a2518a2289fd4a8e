// Package repo persists simulation state to SQLite. It satisfies the engine's
// Store interface; any durable store could replace it.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewline/internal/agent"
	"crewline/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// SaveAgentStates upserts the full roster snapshot in one transaction.
func (r Repo) SaveAgentStates(ctx context.Context, agents []*agent.Agent) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := r.now().UTC().Format(time.RFC3339)
	for _, a := range agents {
		snapshot, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal agent %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO agents(id,name,role,status,energy,workload,tasks_completed,snapshot_json,updated_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, status=excluded.status, energy=excluded.energy,
workload=excluded.workload, tasks_completed=excluded.tasks_completed, snapshot_json=excluded.snapshot_json, updated_at=excluded.updated_at`,
			a.ID, a.Name, a.Role, string(a.Status), a.Energy, a.Workload, a.Stats.TasksCompleted, string(snapshot), now); err != nil {
			return fmt.Errorf("upsert agent %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// LoadAgentStates restores the roster from stored snapshots.
func (r Repo) LoadAgentStates(ctx context.Context) ([]*agent.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT snapshot_json FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var agents []*agent.Agent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a agent.Agent
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("unmarshal agent snapshot: %w", err)
		}
		a.Normalize()
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (r Repo) SaveTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id,title,type,priority,status,assignee_id,creator_id,progress,estimated_duration,created_tick,assigned_tick,completed_tick,actual_duration,collab_requested)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, type=excluded.type, priority=excluded.priority, status=excluded.status,
assignee_id=excluded.assignee_id, creator_id=excluded.creator_id, progress=excluded.progress, estimated_duration=excluded.estimated_duration,
assigned_tick=excluded.assigned_tick, completed_tick=excluded.completed_tick, actual_duration=excluded.actual_duration, collab_requested=excluded.collab_requested`,
		t.ID, t.Title, t.Type, string(t.Priority), string(t.Status), nullable(t.AssigneeID), nullable(t.CreatorID),
		t.Progress, t.EstimatedDuration, t.CreatedTick, nullableInt(t.AssignedTick), nullableInt(t.CompletedTick),
		nullableInt(t.ActualDuration), boolToInt(t.CollabRequested))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,title,type,priority,status,assignee_id,creator_id,progress,estimated_duration,created_tick,assigned_tick,completed_tick,actual_duration,collab_requested FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) LoadTasksByStatus(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,type,priority,status,assignee_id,creator_id,progress,estimated_duration,created_tick,assigned_tick,completed_tick,actual_duration,collab_requested FROM tasks WHERE status=? ORDER BY created_tick, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var assignee, creator sql.NullString
	var assigned, completed, actual sql.NullInt64
	var collab int
	err := scan(&t.ID, &t.Title, &t.Type, &t.Priority, &t.Status, &assignee, &creator,
		&t.Progress, &t.EstimatedDuration, &t.CreatedTick, &assigned, &completed, &actual, &collab)
	if err != nil {
		return t, err
	}
	t.AssigneeID = assignee.String
	t.CreatorID = creator.String
	t.AssignedTick = assigned.Int64
	t.CompletedTick = completed.Int64
	t.ActualDuration = actual.Int64
	t.CollabRequested = collab != 0
	return t, nil
}

func (r Repo) SaveContract(ctx context.Context, c domain.Contract) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contract %s: %w", c.ID, err)
	}
	now := r.now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO contracts(id,task_id,type,status,payload_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET task_id=excluded.task_id, type=excluded.type, status=excluded.status, payload_json=excluded.payload_json, updated_at=excluded.updated_at`,
		c.ID, nullable(c.Context.TaskID), string(c.Type), string(c.Status), string(payload), now)
	if err != nil {
		return fmt.Errorf("save contract %s: %w", c.ID, err)
	}
	return nil
}

// LoadContracts returns the full contract book in insertion order.
func (r Repo) LoadContracts(ctx context.Context) ([]domain.Contract, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM contracts ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c domain.Contract
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("unmarshal contract: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM contracts WHERE id=?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.Contract{}, ErrNotFound
	}
	if err != nil {
		return domain.Contract{}, err
	}
	var c domain.Contract
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return domain.Contract{}, fmt.Errorf("unmarshal contract: %w", err)
	}
	return c, nil
}

// LogEvent appends one event to the persistent diary.
func (r Repo) LogEvent(ctx context.Context, eventType string, payload any, tick int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ts := r.now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO events(ts,tick,type,payload_json) VALUES (?,?,?,?)`,
		ts, tick, eventType, string(data))
	return err
}

// EventRecord is one row of the persisted event diary.
type EventRecord struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Tick    int64  `json:"tick"`
	Type    string `json:"type"`
	Payload string `json:"payload_json"`
}

// LatestEvents returns the newest events, optionally filtered by type.
func (r Repo) LatestEvents(ctx context.Context, n int, eventType string) ([]EventRecord, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id,ts,tick,type,payload_json FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type=?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.TS, &e.Tick, &e.Type, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Stats returns flat row counts, with per-status breakdowns for tasks and
// contracts.
func (r Repo) Stats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{}
	for table, key := range map[string]string{
		"agents":    "agents",
		"tasks":     "tasks",
		"contracts": "contracts",
		"events":    "events",
	} {
		var n int64
		if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[key] = n
	}
	for _, q := range []struct{ query, prefix string }{
		{`SELECT status, count(*) FROM tasks GROUP BY status`, "tasks_"},
		{`SELECT status, count(*) FROM contracts GROUP BY status`, "contracts_"},
	} {
		rows, err := r.DB.QueryContext(ctx, q.query)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return nil, err
			}
			stats[q.prefix+status] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return stats, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
