package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"crewline/internal/domain"
)

const defaultConfidence = 0.8

// Negotiator owns the contract and intervention books. Contracts are never
// deleted; terminal states keep the full round history. Not safe for
// concurrent use on its own; the engine holds the lock.
type Negotiator struct {
	contracts     map[string]*domain.Contract
	order         []string
	interventions map[string]*domain.InterventionRequest
	intOrder      []string

	// deadlines tracks advisory response windows per intervention. Expiry
	// only bumps a counter; the request stays open until a human answers.
	// resolvedIDs is consulted from the cache janitor goroutine, so it is a
	// sync.Map rather than a field under the engine lock.
	deadlines    *gocache.Cache
	resolvedIDs  sync.Map
	expiredCount atomic.Int64

	nextContract     int64
	nextIntervention int64
}

func NewNegotiator() *Negotiator {
	n := &Negotiator{
		contracts:     map[string]*domain.Contract{},
		interventions: map[string]*domain.InterventionRequest{},
		deadlines:     gocache.New(gocache.NoExpiration, time.Minute),
	}
	// OnEvicted fires for explicit deletes too; only count true expiries.
	n.deadlines.OnEvicted(func(id string, _ any) {
		if _, resolved := n.resolvedIDs.Load(id); !resolved {
			n.expiredCount.Add(1)
		}
	})
	return n
}

// CreateContract opens a contract in the proposed state. The proposal counts
// as round zero; responses arrive through SubmitNegotiation.
func (n *Negotiator) CreateContract(typ domain.ContractType, ctx domain.ContractContext, proposal domain.Proposal) *domain.Contract {
	n.nextContract++
	c := &domain.Contract{
		ID:            fmt.Sprintf("contract-%d", n.nextContract),
		Type:          typ,
		Context:       ctx,
		Proposal:      proposal,
		Status:        domain.ContractProposed,
		Audit:         domain.Audit{CreatedTick: proposal.Tick},
		LastRoundTick: proposal.Tick,
	}
	n.contracts[c.ID] = c
	n.order = append(n.order, c.ID)
	return c
}

func (n *Negotiator) Contract(id string) (*domain.Contract, bool) {
	c, ok := n.contracts[id]
	return c, ok
}

// Contracts returns every contract in creation order.
func (n *Negotiator) Contracts() []*domain.Contract {
	out := make([]*domain.Contract, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.contracts[id])
	}
	return out
}

// SubmitNegotiation records one agent's stance and re-evaluates consensus.
// Only pre-consensus contracts accept rounds.
func (n *Negotiator) SubmitNegotiation(id string, round domain.NegotiationRound) (*domain.Contract, error) {
	c, ok := n.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: not found", id)
	}
	if !c.PreConsensus() {
		return nil, fmt.Errorf("contract %s: cannot negotiate in status %s", id, c.Status)
	}
	round.Round = len(c.Rounds) + 1
	if round.Confidence == 0 {
		round.Confidence = defaultConfidence
	}
	c.Rounds = append(c.Rounds, round)
	c.Status = domain.ContractNegotiating
	c.LastRoundTick = round.Tick
	n.evaluateConsensus(c, round.Tick)
	return c, nil
}

// evaluateConsensus checks the latest stance of every distinct participant.
// Consensus needs at least two participants, all on accept; execution starts
// immediately with the first participant as the assigned agent.
func (n *Negotiator) evaluateConsensus(c *domain.Contract, tick int64) {
	latest := map[string]domain.NegotiationRound{}
	var participants []string
	for _, r := range c.Rounds {
		if _, seen := latest[r.AgentID]; !seen {
			participants = append(participants, r.AgentID)
		}
		latest[r.AgentID] = r
	}
	if len(participants) < 2 {
		return
	}
	var confSum float64
	for _, id := range participants {
		r := latest[id]
		if r.Stance != domain.StanceAccept {
			return
		}
		confSum += r.Confidence
	}

	c.Status = domain.ContractConsensusReached
	c.Consensus = &domain.Consensus{
		Reached:             true,
		FinalAgreement:      summarizeAgreement(c),
		ParticipatingAgents: participants,
		Confidence:          confSum / float64(len(participants)),
		Tick:                tick,
	}
	c.Audit.ConsensusTick = tick
	n.startExecution(c, tick)
}

// summarizeAgreement builds the final agreement text from the proposal and
// any amendments voiced along the way.
func summarizeAgreement(c *domain.Contract) string {
	agreement := c.Proposal.Content
	for _, r := range c.Rounds {
		if r.Stance == domain.StanceAmend && r.Content != "" {
			agreement += "; amended: " + r.Content
		}
	}
	return agreement
}

func (n *Negotiator) startExecution(c *domain.Contract, tick int64) {
	c.Status = domain.ContractExecuting
	c.Execution = &domain.Execution{
		Status:          domain.ExecutionInProgress,
		AssignedAgentID: c.Consensus.ParticipatingAgents[0],
	}
	c.Audit.ExecutionTick = tick
}

// SubmitDeliverable attaches work output to an executing contract.
func (n *Negotiator) SubmitDeliverable(id, agentID, content string, tick int64) (*domain.Contract, error) {
	c, ok := n.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: not found", id)
	}
	if c.Status != domain.ContractExecuting {
		return nil, fmt.Errorf("contract %s: cannot submit deliverable in status %s", id, c.Status)
	}
	c.Execution.Deliverables = append(c.Execution.Deliverables, domain.Deliverable{
		ID:      fmt.Sprintf("%s-d%d", c.ID, len(c.Execution.Deliverables)+1),
		AgentID: agentID,
		Content: content,
		Status:  domain.DeliverableSubmitted,
		Tick:    tick,
	})
	return c, nil
}

// VerifyDeliverable approves or rejects a submitted deliverable. Approval
// completes the contract; rejection leaves it executing, waiting for a new
// submission.
func (n *Negotiator) VerifyDeliverable(id, deliverableID string, approved bool, result string, tick int64) (*domain.Contract, error) {
	c, ok := n.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: not found", id)
	}
	if c.Status != domain.ContractExecuting {
		return nil, fmt.Errorf("contract %s: cannot verify in status %s", id, c.Status)
	}
	var d *domain.Deliverable
	for i := range c.Execution.Deliverables {
		if c.Execution.Deliverables[i].ID == deliverableID {
			d = &c.Execution.Deliverables[i]
			break
		}
	}
	if d == nil {
		return nil, fmt.Errorf("contract %s: deliverable %s not found", id, deliverableID)
	}
	if d.Status != domain.DeliverableSubmitted {
		return nil, fmt.Errorf("contract %s: deliverable %s already %s", id, deliverableID, d.Status)
	}
	c.Execution.VerificationResult = result
	if approved {
		d.Status = domain.DeliverableApproved
		c.Execution.Status = domain.ExecutionCompleted
		c.Status = domain.ContractCompleted
		c.Audit.CompletedTick = tick
	} else {
		d.Status = domain.DeliverableRejected
	}
	return c, nil
}

// RequestIntervention escalates a contract to a human. The contract freezes in
// the escalated state until ResolveIntervention.
func (n *Negotiator) RequestIntervention(contractID, agentID, reason string, options []domain.InterventionOption, urgency domain.TaskPriority, tick int64) (*domain.InterventionRequest, error) {
	c, ok := n.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("contract %s: not found", contractID)
	}
	if !c.PreConsensus() {
		return nil, fmt.Errorf("contract %s: cannot escalate in status %s", contractID, c.Status)
	}
	if urgency == "" {
		urgency = domain.PriorityMedium
	}
	n.nextIntervention++
	req := &domain.InterventionRequest{
		ID:          fmt.Sprintf("intervention-%d", n.nextIntervention),
		ContractID:  contractID,
		AgentID:     agentID,
		Type:        "decision_needed",
		Context:     reason,
		Options:     options,
		Urgency:     urgency,
		Status:      domain.InterventionPending,
		CreatedTick: tick,
	}
	n.interventions[req.ID] = req
	n.intOrder = append(n.intOrder, req.ID)

	c.Status = domain.ContractEscalated
	c.Intervention = &domain.Intervention{
		Required:  true,
		Type:      req.Type,
		RequestID: req.ID,
	}
	n.deadlines.Set(req.ID, req.ContractID, deadlineFor(urgency))
	return req, nil
}

// deadlineFor maps urgency to an advisory response window.
func deadlineFor(urgency domain.TaskPriority) time.Duration {
	switch urgency {
	case domain.PriorityUrgent:
		return 5 * time.Minute
	case domain.PriorityHigh:
		return 30 * time.Minute
	default:
		return 2 * time.Hour
	}
}

// ResolveIntervention applies a human decision. "proceed" resumes negotiation;
// anything else closes the contract with the decision recorded as rationale.
func (n *Negotiator) ResolveIntervention(requestID, decision string, tick int64) (*domain.InterventionRequest, error) {
	req, ok := n.interventions[requestID]
	if !ok {
		return nil, fmt.Errorf("intervention %s: not found", requestID)
	}
	if req.Status == domain.InterventionResolved {
		return nil, fmt.Errorf("intervention %s: already resolved", requestID)
	}
	req.Status = domain.InterventionResolved
	req.Decision = decision
	req.ResolvedTick = tick
	n.resolvedIDs.Store(requestID, struct{}{})
	n.deadlines.Delete(requestID)

	c, ok := n.contracts[req.ContractID]
	if !ok {
		return req, nil
	}
	c.Intervention.Decision = decision
	c.Intervention.ResolvedTick = tick
	if decision == "proceed" {
		c.Status = domain.ContractNegotiating
		c.LastRoundTick = tick
	} else {
		c.Status = domain.ContractCompleted
		c.Audit.CompletedTick = tick
		c.Audit.Rationale = "closed by human decision: " + decision
	}
	return req, nil
}

// PendingInterventions lists unresolved requests in creation order.
func (n *Negotiator) PendingInterventions() []*domain.InterventionRequest {
	var out []*domain.InterventionRequest
	for _, id := range n.intOrder {
		if req := n.interventions[id]; req.Status == domain.InterventionPending {
			out = append(out, req)
		}
	}
	return out
}

func (n *Negotiator) Intervention(id string) (*domain.InterventionRequest, bool) {
	req, ok := n.interventions[id]
	return req, ok
}

// ExpiredDeadlines counts interventions whose advisory window lapsed without a
// decision. Informational only.
func (n *Negotiator) ExpiredDeadlines() int64 {
	return n.expiredCount.Load()
}

// StalledContracts returns pre-consensus contracts without a round for
// stallTicks ticks. The engine escalates these.
func (n *Negotiator) StalledContracts(tick, stallTicks int64) []*domain.Contract {
	if stallTicks <= 0 {
		return nil
	}
	var out []*domain.Contract
	for _, id := range n.order {
		c := n.contracts[id]
		if c.PreConsensus() && tick-c.LastRoundTick >= stallTicks {
			out = append(out, c)
		}
	}
	return out
}

// Restore puts a persisted contract back into the book, keeping creation
// order stable across restarts via the numeric id suffix.
func (n *Negotiator) Restore(c domain.Contract) {
	if _, ok := n.contracts[c.ID]; ok {
		return
	}
	cc := c
	n.contracts[c.ID] = &cc
	n.order = append(n.order, c.ID)
	var seq int64
	if _, err := fmt.Sscanf(c.ID, "contract-%d", &seq); err == nil && seq > n.nextContract {
		n.nextContract = seq
	}
	if cc.Status == domain.ContractEscalated && cc.Intervention != nil && cc.Intervention.Decision == "" {
		n.restoreIntervention(&cc)
	}
}

// restoreIntervention reopens the pending request behind a restored escalated
// contract so a human can still resolve it after a restart. The original
// urgency is not persisted with the contract; a restored request reopens with
// a fresh advisory window at medium urgency.
func (n *Negotiator) restoreIntervention(c *domain.Contract) {
	id := c.Intervention.RequestID
	if id == "" {
		return
	}
	if _, ok := n.interventions[id]; ok {
		return
	}
	req := &domain.InterventionRequest{
		ID:          id,
		ContractID:  c.ID,
		AgentID:     c.Proposal.InitiatorID,
		Type:        c.Intervention.Type,
		Context:     c.Context.Description,
		Urgency:     domain.PriorityMedium,
		Status:      domain.InterventionPending,
		CreatedTick: c.LastRoundTick,
	}
	n.interventions[id] = req
	n.intOrder = append(n.intOrder, id)
	var seq int64
	if _, err := fmt.Sscanf(id, "intervention-%d", &seq); err == nil && seq > n.nextIntervention {
		n.nextIntervention = seq
	}
	n.deadlines.Set(id, c.ID, deadlineFor(req.Urgency))
}
