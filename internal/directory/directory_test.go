package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

func newTestDirectory(t *testing.T, profiles map[string]config.AgentProfile) *Directory {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	d := New(s, profiles)
	if err := d.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	return d
}

func testProfiles() map[string]config.AgentProfile {
	return map[string]config.AgentProfile{
		"alpha": {
			Name: "Alpha",
			Capabilities: []config.Capability{
				{Name: "research", Proficiency: 90},
			},
			Specializations: []config.Specialization{
				{Domain: "finance", Level: "expert"},
			},
			TrustScore:     90,
			CollabScore:    80,
			CompletionRate: 85,
			Satisfaction:   88,
			MaxLoad:        5,
			Roles:          map[string]float64{"coordinator": 75},
		},
		"beta": {
			Name: "Beta",
			Capabilities: []config.Capability{
				{Name: "data visualization", Proficiency: 80},
			},
			TrustScore:     70,
			CompletionRate: 95,
			MaxLoad:        3,
		},
		"private": {
			Name:   "Private",
			UserID: "owner",
			Capabilities: []config.Capability{
				{Name: "research", Proficiency: 99},
			},
			TrustScore: 99,
			MaxLoad:    5,
		},
	}
}

func TestSyncAndDecode(t *testing.T) {
	d := newTestDirectory(t, testProfiles())

	agents, err := d.List("owner")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents for owner, got %d", len(agents))
	}

	var alpha swarm.SwarmCapableAgent
	for _, a := range agents {
		if a.ID == "alpha" {
			alpha = a
		}
	}
	if alpha.Name != "Alpha" || alpha.TrustScore != 90 {
		t.Errorf("unexpected alpha: %+v", alpha)
	}
	if len(alpha.Capabilities) != 1 || alpha.Capabilities[0].Name != "research" {
		t.Errorf("capabilities not restored: %+v", alpha.Capabilities)
	}
	if len(alpha.Specializations) != 1 || alpha.Specializations[0].Level != swarm.LevelExpert {
		t.Errorf("specializations not restored: %+v", alpha.Specializations)
	}
	if alpha.Roles["coordinator"] != 75 {
		t.Errorf("roles not restored: %+v", alpha.Roles)
	}
}

func TestFindCandidateAgents_CapabilityFilter(t *testing.T) {
	d := newTestDirectory(t, testProfiles())

	agents, err := d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		Capabilities: []string{"visualization"},
	}, "someone")
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 || agents[0].ID != "beta" {
		t.Fatalf("expected only beta, got %+v", agents)
	}
}

func TestFindCandidateAgents_UserScoping(t *testing.T) {
	d := newTestDirectory(t, testProfiles())

	agents, err := d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		Capabilities: []string{"research"},
	}, "someone")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range agents {
		if a.ID == "private" {
			t.Fatal("private agent leaked to another user")
		}
	}

	agents, err = d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		Capabilities: []string{"research"},
	}, "owner")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range agents {
		if a.ID == "private" {
			found = true
		}
	}
	if !found {
		t.Fatal("owner should see their private agent")
	}
}

func TestFindCandidateAgents_AvailableOnly(t *testing.T) {
	d := newTestDirectory(t, testProfiles())

	if err := d.SetLoad("beta", 3); err != nil {
		t.Fatal(err)
	}

	agents, err := d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		AvailableOnly: true,
	}, "someone")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range agents {
		if a.ID == "beta" {
			t.Fatal("saturated agent should be excluded")
		}
	}
}

func TestFindCandidateAgents_SortAndLimit(t *testing.T) {
	d := newTestDirectory(t, testProfiles())

	agents, err := d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		SortBy: "trust",
	}, "someone")
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) < 2 || agents[0].TrustScore < agents[1].TrustScore {
		t.Errorf("expected descending trust order, got %+v", agents)
	}

	agents, err = d.FindCandidateAgents(context.Background(), swarm.AgentCriteria{
		SortBy:     "completion_rate",
		MaxResults: 1,
	}, "someone")
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 || agents[0].ID != "beta" {
		t.Fatalf("expected beta (highest completion rate), got %+v", agents)
	}
}

func TestSyncRemovesStaleAgents(t *testing.T) {
	profiles := testProfiles()
	d := newTestDirectory(t, profiles)

	delete(profiles, "beta")
	if err := d.Sync(); err != nil {
		t.Fatalf("resync: %v", err)
	}

	agents, err := d.List("owner")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range agents {
		if a.ID == "beta" {
			t.Fatal("expected beta removed after resync")
		}
	}
}
