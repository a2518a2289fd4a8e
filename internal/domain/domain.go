package domain

// TaskPriority orders how aggressively a task competes for an agent.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// TaskStatus tracks the task lifecycle: pending -> assigned -> in_progress -> completed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type Task struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Type              string       `json:"type"`
	Priority          TaskPriority `json:"priority"`
	Progress          float64      `json:"progress"`
	AssigneeID        string       `json:"assignee_id,omitempty"`
	CreatorID         string       `json:"creator_id,omitempty"`
	Status            TaskStatus   `json:"status"`
	EstimatedDuration float64      `json:"estimated_duration"`
	CreatedTick       int64        `json:"created_tick"`
	AssignedTick      int64        `json:"assigned_tick,omitempty"`
	CompletedTick     int64        `json:"completed_tick,omitempty"`
	ActualDuration    int64        `json:"actual_duration,omitempty"`
	// CollabRequested is one-shot: a task asks for help at most once.
	CollabRequested bool `json:"collab_requested,omitempty"`
}

// ContractType classifies what kind of collaboration a contract governs.
type ContractType string

const (
	ContractTaskDelegation ContractType = "task_delegation"
	ContractJointWork      ContractType = "joint_work"
	ContractPeerReview     ContractType = "peer_review"
	ContractConsultation   ContractType = "consultation"
	ContractArbitration    ContractType = "arbitration"
)

// ContractStatus tracks the negotiation lifecycle. Escalated is an orthogonal
// branch reachable from any pre-consensus state.
type ContractStatus string

const (
	ContractProposed         ContractStatus = "proposed"
	ContractNegotiating      ContractStatus = "negotiating"
	ContractConsensusReached ContractStatus = "consensus_reached"
	ContractExecuting        ContractStatus = "executing"
	ContractCompleted        ContractStatus = "completed"
	ContractEscalated        ContractStatus = "escalated"
)

// Stance is an agent's position in a negotiation round.
type Stance string

const (
	StanceAccept  Stance = "accept"
	StanceAmend   Stance = "amend"
	StanceReject  Stance = "reject"
	StancePropose Stance = "propose"
)

type ContractContext struct {
	Description string `json:"description"`
	TaskID      string `json:"task_id,omitempty"`
}

type Proposal struct {
	InitiatorID string   `json:"initiator_id"`
	Content     string   `json:"content"`
	Evidence    []string `json:"evidence,omitempty"`
	Tick        int64    `json:"tick"`
}

type NegotiationRound struct {
	Round      int      `json:"round"`
	AgentID    string   `json:"agent_id"`
	Stance     Stance   `json:"stance"`
	Content    string   `json:"content,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence"`
	Tick       int64    `json:"tick"`
}

type Consensus struct {
	Reached             bool     `json:"reached"`
	FinalAgreement      string   `json:"final_agreement"`
	ParticipatingAgents []string `json:"participating_agents"`
	Confidence          float64  `json:"confidence"`
	Tick                int64    `json:"tick"`
}

type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
)

type DeliverableStatus string

const (
	DeliverableSubmitted DeliverableStatus = "submitted"
	DeliverableApproved  DeliverableStatus = "approved"
	DeliverableRejected  DeliverableStatus = "rejected"
)

type Deliverable struct {
	ID      string            `json:"id"`
	AgentID string            `json:"agent_id"`
	Content string            `json:"content"`
	Status  DeliverableStatus `json:"status"`
	Tick    int64             `json:"tick"`
}

type Execution struct {
	Status             ExecutionStatus `json:"status"`
	AssignedAgentID    string          `json:"assigned_agent_id"`
	Deliverables       []Deliverable   `json:"deliverables,omitempty"`
	VerificationResult string          `json:"verification_result,omitempty"`
}

type Intervention struct {
	Required     bool   `json:"required"`
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	Decision     string `json:"decision,omitempty"`
	ResolvedTick int64  `json:"resolved_tick,omitempty"`
}

// Audit stamps the contract milestones. A zero tick means the milestone has not
// been reached.
type Audit struct {
	CreatedTick   int64  `json:"created_tick"`
	ConsensusTick int64  `json:"consensus_tick,omitempty"`
	ExecutionTick int64  `json:"execution_tick,omitempty"`
	CompletedTick int64  `json:"completed_tick,omitempty"`
	Rationale     string `json:"rationale,omitempty"`
}

// Contract is a negotiated agreement between agents to jointly or delegately
// complete a task. Contracts are never deleted; terminal states keep the full
// round history for audit.
type Contract struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"project_id,omitempty"`
	Type          ContractType       `json:"type"`
	Context       ContractContext    `json:"context"`
	Proposal      Proposal           `json:"proposal"`
	Rounds        []NegotiationRound `json:"rounds,omitempty"`
	Status        ContractStatus     `json:"status"`
	Consensus     *Consensus         `json:"consensus,omitempty"`
	Execution     *Execution         `json:"execution,omitempty"`
	Intervention  *Intervention      `json:"intervention,omitempty"`
	Audit         Audit              `json:"audit"`
	LastRoundTick int64              `json:"last_round_tick,omitempty"`
}

// PreConsensus reports whether the contract can still be escalated or collect
// negotiation rounds.
func (c *Contract) PreConsensus() bool {
	return c.Status == ContractProposed || c.Status == ContractNegotiating
}

type InterventionStatus string

const (
	InterventionPending  InterventionStatus = "pending"
	InterventionResolved InterventionStatus = "resolved"
)

type InterventionOption struct {
	Description string   `json:"description"`
	Supporting  []string `json:"supporting,omitempty"`
	Opposing    []string `json:"opposing,omitempty"`
	Risks       string   `json:"risks,omitempty"`
}

// InterventionRequest asks a human to settle a decision the agents could not.
// Resolution happens externally and is applied back into the owning contract.
type InterventionRequest struct {
	ID           string               `json:"id"`
	ContractID   string               `json:"contract_id"`
	AgentID      string               `json:"agent_id"`
	Type         string               `json:"type"`
	Context      string               `json:"context"`
	Options      []InterventionOption `json:"options,omitempty"`
	Urgency      TaskPriority         `json:"urgency"`
	Status       InterventionStatus   `json:"status"`
	Decision     string               `json:"decision,omitempty"`
	CreatedTick  int64                `json:"created_tick"`
	ResolvedTick int64                `json:"resolved_tick,omitempty"`
}
