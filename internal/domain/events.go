package domain

// EventKind enumerates the closed set of simulation events. Each kind has its
// own payload type; handlers switch on the concrete type rather than poking at
// loose maps.
type EventKind string

const (
	EventNewTask              EventKind = "new_task"
	EventTaskCompleted        EventKind = "task_completed"
	EventCollaborationRequest EventKind = "collaboration_request"
	EventDelegation           EventKind = "delegation"
	EventHumanIntervention    EventKind = "human_intervention"
)

// Event is the tagged union over all simulation event payloads.
type Event interface {
	Kind() EventKind
}

// NewTaskEvent injects a task into the pending queue.
type NewTaskEvent struct {
	Task Task `json:"task"`
}

func (NewTaskEvent) Kind() EventKind { return EventNewTask }

// TaskCompletedEvent is emitted by an agent when a task reaches 100%.
type TaskCompletedEvent struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Tick    int64  `json:"tick"`
}

func (TaskCompletedEvent) Kind() EventKind { return EventTaskCompleted }

// CollaborationRequestEvent is emitted once per task when an agent mid-way
// through decides it wants help.
type CollaborationRequestEvent struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (CollaborationRequestEvent) Kind() EventKind { return EventCollaborationRequest }

// DelegationEvent moves a task from one agent to another.
type DelegationEvent struct {
	TaskID      string `json:"task_id"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id,omitempty"`
}

func (DelegationEvent) Kind() EventKind { return EventDelegation }

// HumanInterventionEvent carries an external human decision back into a
// pending intervention request.
type HumanInterventionEvent struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

func (HumanInterventionEvent) Kind() EventKind { return EventHumanIntervention }
