package engine

import (
	"math"
	"sort"

	"crewline/internal/agent"
	"crewline/internal/domain"
)

// Allocator scores the roster against one pending task and picks the best
// candidate. It is stateless per call; anti-starvation comes from the rotation
// bonus and the completed-count tie-break.
type Allocator struct {
	// Skills maps a task type to the skill names it needs.
	Skills map[string][]string
	// TieMargin groups near-equal scores for the rotation tie-break.
	TieMargin float64
	// RecentTicks/RecentPenalty discourage re-assigning the same agent on
	// consecutive ticks.
	RecentTicks   int64
	RecentPenalty float64
}

const (
	weightCapability   = 0.30
	weightWorkload     = 0.25
	weightEnergy       = 0.15
	weightAvailability = 0.10
	weightRelationship = 0.05
	weightRotation     = 0.15

	defaultTieMargin     = 5.0
	defaultRecentTicks   = 3
	defaultRecentPenalty = 15.0
	overloadedPenalty    = 20.0
	rotationTaper        = 15.0
)

func NewAllocator(skills map[string][]string) Allocator {
	return Allocator{
		Skills:        skills,
		TieMargin:     defaultTieMargin,
		RecentTicks:   defaultRecentTicks,
		RecentPenalty: defaultRecentPenalty,
	}
}

type candidate struct {
	agent *agent.Agent
	score float64
}

// Pick returns the best agent for the task, or nil when nobody is eligible.
// Roster order must be deterministic; ties inside TieMargin go to the agent
// with the fewest completed tasks, then the lowest workload.
func (al Allocator) Pick(task *domain.Task, roster []*agent.Agent, tick int64) *agent.Agent {
	avg := averageWorkload(roster)

	var candidates []candidate
	for _, a := range roster {
		if !al.eligible(a, task.Priority) {
			continue
		}
		candidates = append(candidates, candidate{agent: a, score: al.score(a, task, avg, tick)})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	best := candidates[0]
	for _, c := range candidates[1:] {
		if best.score-c.score > al.TieMargin {
			break
		}
		if c.agent.Stats.TasksCompleted < best.agent.Stats.TasksCompleted ||
			(c.agent.Stats.TasksCompleted == best.agent.Stats.TasksCompleted && c.agent.Workload < best.agent.Workload) {
			best = c
		}
	}
	return best.agent
}

// eligible keeps only agents that would actually take the task. The agent's
// own acceptance gates decide first, so a scoring winner can never refuse the
// assignment; on top of that the allocator queues at most 2 tasks per agent,
// or 4 when the work is urgent.
func (al Allocator) eligible(a *agent.Agent, priority domain.TaskPriority) bool {
	if !a.CanAcceptTask(priority) {
		return false
	}
	maxTasks := 2
	if priority == domain.PriorityUrgent {
		maxTasks = 4
	}
	return len(a.CurrentTasks) < maxTasks
}

func (al Allocator) score(a *agent.Agent, task *domain.Task, rosterAvgWorkload float64, tick int64) float64 {
	total := weightCapability*al.capabilityScore(a, task.Type) +
		weightWorkload*al.workloadScore(a, rosterAvgWorkload) +
		weightEnergy*a.Energy +
		weightAvailability*availabilityScore(a) +
		weightRelationship*a.TrustToward(task.CreatorID) +
		weightRotation*rotationScore(a)

	switch task.Priority {
	case domain.PriorityUrgent:
		total += 10
	case domain.PriorityHigh:
		total += 5
	}
	if a.LastAssignedTick > 0 && tick-a.LastAssignedTick <= al.RecentTicks {
		total -= al.RecentPenalty
	}
	return total
}

// capabilityScore averages the agent's levels over the task type's required
// skills; a type with no skill list scores neutral.
func (al Allocator) capabilityScore(a *agent.Agent, taskType string) float64 {
	skills := al.Skills[taskType]
	if len(skills) == 0 {
		return 50
	}
	var sum float64
	for _, s := range skills {
		sum += a.Capabilities[s]
	}
	return sum / float64(len(skills))
}

// workloadScore converts load to a score with a superlinear penalty, plus an
// extra hit for agents far above the roster average.
func (al Allocator) workloadScore(a *agent.Agent, rosterAvg float64) float64 {
	penalty := math.Pow(a.Workload/100, 1.5) * 100
	score := 100 - penalty
	if rosterAvg > 0 && a.Workload > rosterAvg*1.5 {
		score -= overloadedPenalty
	}
	return score
}

func availabilityScore(a *agent.Agent) float64 {
	if a.Status == agent.StatusIdle {
		return 100
	}
	return 60
}

// rotationScore rewards agents with little work history. Zero-task agents get
// the full bonus; the score goes negative as the completed count grows, so
// busy veterans lose out to fresh agents on otherwise equal footing.
func rotationScore(a *agent.Agent) float64 {
	return 100 - rotationTaper*float64(a.Stats.TasksCompleted)
}

func averageWorkload(roster []*agent.Agent) float64 {
	if len(roster) == 0 {
		return 0
	}
	var sum float64
	for _, a := range roster {
		sum += a.Workload
	}
	return sum / float64(len(roster))
}
