package swarm

import (
	"math"
	"sort"
	"strings"
)

// CoordinatorRole is the role key agents declare proficiency under to be
// eligible as swarm coordinator.
const CoordinatorRole = "coordinator"

// ScoreAgent rates a candidate's whole-task suitability on a 0-100 scale:
// capability match 40%, past performance 30%, trust 20%, availability 10%.
func ScoreAgent(requiredCaps []string, agent SwarmCapableAgent) float64 {
	score := capabilityMatch(requiredCaps, agent) * 40

	performance := 0.4*agent.CompletionRate + 0.3*agent.SatisfactionScore + 0.3*agent.CollaborationScore
	score += performance / 100 * 30

	score += agent.TrustScore / 100 * 20

	score += availability(agent) * 10

	return math.Min(100, math.Max(0, score))
}

// capabilityMatch returns the fraction of required capability tags that
// fuzzy-match (case-insensitive substring) one of the agent's capability
// names.
func capabilityMatch(requiredCaps []string, agent SwarmCapableAgent) float64 {
	if len(requiredCaps) == 0 {
		return 0
	}
	matched := 0
	for _, tag := range requiredCaps {
		if agentMatchesCapability(agent, tag) {
			matched++
		}
	}
	return float64(matched) / float64(len(requiredCaps))
}

func agentMatchesCapability(agent SwarmCapableAgent, tag string) bool {
	tag = strings.ToLower(tag)
	for _, c := range agent.Capabilities {
		name := strings.ToLower(c.Name)
		if strings.Contains(name, tag) || strings.Contains(tag, name) {
			return true
		}
	}
	return false
}

func availability(agent SwarmCapableAgent) float64 {
	if agent.MaxLoad <= 0 {
		return 0
	}
	return math.Max(0, 1-float64(agent.CurrentLoad)/float64(agent.MaxLoad))
}

// SelectionLimit bounds the working set size for a decomposition of the
// given subtask count: min(5, max(2, ceil(subtasks/2))).
func SelectionLimit(subtaskCount int) int {
	limit := int(math.Ceil(float64(subtaskCount) / 2))
	if limit < 2 {
		limit = 2
	}
	if limit > 5 {
		limit = 5
	}
	return limit
}

// SelectOptimalAgents picks a diverse, bounded working set for the task.
// Candidates are scored and walked in descending score order; an agent is
// accepted when it covers at least one required capability tag not yet
// covered, or when nothing has been accepted yet. Selecting from zero
// candidates yields zero agents.
func SelectOptimalAgents(decomp *TaskDecomposition, candidates []SwarmCapableAgent) []SwarmCapableAgent {
	if len(candidates) == 0 {
		return nil
	}

	type scored struct {
		agent SwarmCapableAgent
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{agent: c, score: ScoreAgent(decomp.RequiredCapabilities, c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	limit := SelectionLimit(len(decomp.SubTasks))
	covered := make(map[string]bool)
	var selected []SwarmCapableAgent

	for _, r := range ranked {
		if len(selected) >= limit {
			break
		}

		contributes := len(selected) == 0
		for _, tag := range decomp.RequiredCapabilities {
			if !covered[tag] && agentMatchesCapability(r.agent, tag) {
				contributes = true
			}
		}
		if !contributes {
			continue
		}

		for _, tag := range decomp.RequiredCapabilities {
			if agentMatchesCapability(r.agent, tag) {
				covered[tag] = true
			}
		}
		selected = append(selected, r.agent)
	}

	return selected
}

// SelectCoordinator picks the selected agent best suited to coordinate:
// 0.4 coordinator-role proficiency, 0.3 collaboration, 0.2 trust,
// 0.1 completion rate.
func SelectCoordinator(agents []SwarmCapableAgent) (SwarmCapableAgent, bool) {
	if len(agents) == 0 {
		return SwarmCapableAgent{}, false
	}

	best := agents[0]
	bestScore := coordinatorScore(agents[0])
	for _, a := range agents[1:] {
		if s := coordinatorScore(a); s > bestScore {
			best, bestScore = a, s
		}
	}
	return best, true
}

func coordinatorScore(agent SwarmCapableAgent) float64 {
	return 0.4*agent.Roles[CoordinatorRole] +
		0.3*agent.CollaborationScore +
		0.2*agent.TrustScore +
		0.1*agent.CompletionRate
}
