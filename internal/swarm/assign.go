package swarm

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

var specializationMultiplier = map[SpecializationLevel]float64{
	LevelNovice:       1,
	LevelIntermediate: 2,
	LevelExpert:       3,
	LevelMaster:       4,
}

// Assigner maps subtasks to selected agents with a greedy load-aware
// relevance heuristic and hands assignments to the transport.
type Assigner struct {
	transport Transport
}

func NewAssigner(transport Transport) *Assigner {
	return &Assigner{transport: transport}
}

// Assign walks the decomposition's subtasks in order and assigns each to
// the agent with the highest relevance minus a load penalty of 10 per
// subtask already assigned in this pass. With no candidates a subtask is
// left unassigned for a later retry. Delivery is fire-and-forget; send
// failures are logged, not returned.
func (a *Assigner) Assign(ctx context.Context, session *SwarmSession, agents []SwarmCapableAgent) {
	decomp := session.Task.Decomposition
	if decomp == nil {
		return
	}

	assignedCount := make(map[string]int, len(agents))

	for i := range decomp.SubTasks {
		st := &decomp.SubTasks[i]

		best := ""
		bestScore := 0.0
		for _, agent := range agents {
			score := RelevanceScore(st.Description, agent) - 10*float64(assignedCount[agent.ID])
			if best == "" || score > bestScore {
				best, bestScore = agent.ID, score
			}
		}
		if best == "" {
			slog.Warn("subtask left unassigned, no candidates", "session", session.ID, "subtask", st.ID)
			continue
		}

		st.AssignedAgentID = best
		assignedCount[best]++

		if err := a.transport.SendTaskAssignment(ctx, session.ID, best, *st); err != nil {
			slog.Error("task assignment send failed", "session", session.ID, "subtask", st.ID, "agent", best, "error", err)
		}
	}
}

// RelevanceScore rates how well an agent's capabilities and
// specializations match a subtask description: keyword overlap with each
// capability name weighted by proficiency, plus overlap with each
// specialization domain weighted by level multiplier times 10.
func RelevanceScore(description string, agent SwarmCapableAgent) float64 {
	words := keywordSet(description)

	score := 0.0
	for _, c := range agent.Capabilities {
		score += float64(overlap(words, keywordSet(c.Name))) * c.Proficiency
	}
	for _, s := range agent.Specializations {
		score += float64(overlap(words, keywordSet(s.Domain))) * specializationMultiplier[s.Level] * 10
	}
	return score
}

func keywordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			set[f] = true
		}
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range b {
		if a[w] {
			n++
		}
	}
	return n
}
