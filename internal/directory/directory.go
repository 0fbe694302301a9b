package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

// Directory answers candidate queries against the persisted agent pool.
// Agent profiles declared in config are synced into the store at
// startup; stale profiles are removed.
type Directory struct {
	store    *store.Store
	profiles map[string]config.AgentProfile
}

func New(s *store.Store, profiles map[string]config.AgentProfile) *Directory {
	return &Directory{store: s, profiles: profiles}
}

// Sync upserts every configured agent profile and deletes agents no
// longer declared.
func (d *Directory) Sync() error {
	ids := make([]string, 0, len(d.profiles))
	for id, profile := range d.profiles {
		ids = append(ids, id)

		a, err := profileToRecord(id, profile)
		if err != nil {
			return fmt.Errorf("encode agent %s: %w", id, err)
		}
		if err := d.store.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", id, err)
		}
	}

	if err := d.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

// FindCandidateAgents returns the agents matching the criteria. Agents
// scoped to a user are only visible to that user; unscoped agents are
// visible to everyone.
func (d *Directory) FindCandidateAgents(ctx context.Context, criteria swarm.AgentCriteria, userID string) ([]swarm.SwarmCapableAgent, error) {
	records, err := d.store.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var out []swarm.SwarmCapableAgent
	for _, rec := range records {
		if rec.UserID != "" && rec.UserID != userID {
			continue
		}

		agent, err := recordToAgent(&rec)
		if err != nil {
			return nil, fmt.Errorf("decode agent %s: %w", rec.ID, err)
		}

		if criteria.AvailableOnly && (agent.MaxLoad <= 0 || agent.CurrentLoad >= agent.MaxLoad) {
			continue
		}
		if len(criteria.Capabilities) > 0 && !matchesAny(agent, criteria.Capabilities) {
			continue
		}

		out = append(out, agent)
	}

	switch criteria.SortBy {
	case "trust":
		sort.SliceStable(out, func(i, j int) bool { return out[i].TrustScore > out[j].TrustScore })
	case "completion_rate":
		sort.SliceStable(out, func(i, j int) bool { return out[i].CompletionRate > out[j].CompletionRate })
	}

	if criteria.MaxResults > 0 && len(out) > criteria.MaxResults {
		out = out[:criteria.MaxResults]
	}
	return out, nil
}

// List returns every agent visible to the user.
func (d *Directory) List(userID string) ([]swarm.SwarmCapableAgent, error) {
	return d.findAll(userID)
}

func (d *Directory) findAll(userID string) ([]swarm.SwarmCapableAgent, error) {
	return d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{}, userID)
}

// SetLoad records an agent's current subtask count.
func (d *Directory) SetLoad(agentID string, load int) error {
	return d.store.SetAgentLoad(agentID, load)
}

// matchesAny reports whether the agent covers at least one requested
// capability tag, case-insensitive substring in either direction.
func matchesAny(agent swarm.SwarmCapableAgent, tags []string) bool {
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		for _, c := range agent.Capabilities {
			name := strings.ToLower(c.Name)
			if strings.Contains(name, tag) || strings.Contains(tag, name) {
				return true
			}
		}
	}
	return false
}

func profileToRecord(id string, p config.AgentProfile) (*store.Agent, error) {
	caps := make([]swarm.AgentCapability, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps = append(caps, swarm.AgentCapability{Name: c.Name, Proficiency: c.Proficiency, Domains: c.Domains})
	}
	specs := make([]swarm.AgentSpecialization, 0, len(p.Specializations))
	for _, sp := range p.Specializations {
		specs = append(specs, swarm.AgentSpecialization{Domain: sp.Domain, Level: swarm.SpecializationLevel(sp.Level)})
	}

	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return nil, err
	}
	rolesJSON, err := json.Marshal(p.Roles)
	if err != nil {
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = id
	}

	return &store.Agent{
		ID:                 id,
		Name:               name,
		UserID:             p.UserID,
		Capabilities:       capsJSON,
		Specializations:    specsJSON,
		Roles:              rolesJSON,
		TrustScore:         p.TrustScore,
		CollaborationScore: p.CollabScore,
		CompletionRate:     p.CompletionRate,
		SatisfactionScore:  p.Satisfaction,
		MaxLoad:            p.MaxLoad,
	}, nil
}

func recordToAgent(rec *store.Agent) (swarm.SwarmCapableAgent, error) {
	agent := swarm.SwarmCapableAgent{
		ID:                 rec.ID,
		Name:               rec.Name,
		TrustScore:         rec.TrustScore,
		CollaborationScore: rec.CollaborationScore,
		CompletionRate:     rec.CompletionRate,
		SatisfactionScore:  rec.SatisfactionScore,
		CurrentLoad:        rec.CurrentLoad,
		MaxLoad:            rec.MaxLoad,
	}
	if len(rec.Capabilities) > 0 {
		if err := json.Unmarshal(rec.Capabilities, &agent.Capabilities); err != nil {
			return agent, err
		}
	}
	if len(rec.Specializations) > 0 {
		if err := json.Unmarshal(rec.Specializations, &agent.Specializations); err != nil {
			return agent, err
		}
	}
	if len(rec.Roles) > 0 {
		if err := json.Unmarshal(rec.Roles, &agent.Roles); err != nil {
			return agent, err
		}
	}
	return agent, nil
}
