package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/reason"
)

// Decomposer turns a task description into a validated subtask graph via
// the reasoning engine. Decompose never fails: any engine or parse
// failure yields the single-subtask fallback.
type Decomposer struct {
	engine reason.Engine
}

func NewDecomposer(engine reason.Engine) *Decomposer {
	return &Decomposer{engine: engine}
}

// FallbackCapability tags the single-subtask fallback decomposition.
const FallbackCapability = "general_processing"

const fallbackEstimatedMinutes = 30

type breakdownResponse struct {
	SubTasks []struct {
		ID               string `json:"id"`
		Description      string `json:"description"`
		EstimatedMinutes int    `json:"estimated_minutes"`
	} `json:"subtasks"`
	Dependencies []struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Kind      string `json:"kind"`
		Condition string `json:"condition"`
	} `json:"dependencies"`
	Complexity   int      `json:"complexity"`
	Capabilities []string `json:"capabilities"`
}

func (d *Decomposer) Decompose(ctx context.Context, task *ComplexTask) *TaskDecomposition {
	text, err := d.engine.Generate(ctx, buildBreakdownPrompt(task))
	if err != nil {
		slog.Warn("decomposition fallback: engine failed", "task", task.ID, "error", err)
		return fallbackDecomposition(task)
	}

	decomp, err := parseBreakdown(task, text)
	if err != nil {
		slog.Warn("decomposition fallback: malformed breakdown", "task", task.ID, "error", err)
		return fallbackDecomposition(task)
	}

	if v := ValidateDecomposition(decomp); !v.Valid() {
		slog.Warn("decomposition fallback: invalid graph", "task", task.ID, "errors", strings.Join(v.Errors, "; "))
		return fallbackDecomposition(task)
	} else if len(v.Warnings) > 0 {
		slog.Warn("decomposition anomalies", "task", task.ID, "warnings", strings.Join(v.Warnings, "; "))
	}

	return decomp
}

func buildBreakdownPrompt(task *ComplexTask) string {
	var sb strings.Builder

	sb.WriteString("## Task\n\n")
	sb.WriteString(task.Description)
	sb.WriteString("\n\n")

	if task.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", task.Title)
	}
	if task.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", task.Category)
	}
	fmt.Fprintf(&sb, "Priority: %s\n", task.Priority)
	if task.Deadline != nil {
		fmt.Fprintf(&sb, "Deadline: %s\n", task.Deadline.UTC().Format(time.RFC3339))
	}

	if len(task.Requirements) > 0 {
		sb.WriteString("\n## Requirements\n\n")
		for _, r := range task.Requirements {
			fmt.Fprintf(&sb, "- [%s/%s] %s\n", r.Type, r.Importance, r.Description)
		}
	}
	if len(task.Constraints) > 0 {
		sb.WriteString("\n## Constraints\n\n")
		for _, c := range task.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}

	sb.WriteString(`
## Instructions

Break this task into 3-7 atomic subtasks, each 5-30 minutes of agent
effort. Respond with JSON only, matching exactly:

{
  "subtasks": [{"id": "s1", "description": "...", "estimated_minutes": 15}],
  "dependencies": [{"from": "s1", "to": "s2", "kind": "sequential"}],
  "complexity": 5,
  "capabilities": ["research"]
}
`)

	return sb.String()
}

func parseBreakdown(task *ComplexTask, text string) (*TaskDecomposition, error) {
	var resp breakdownResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("parse breakdown: %w", err)
	}
	if len(resp.SubTasks) == 0 {
		return nil, fmt.Errorf("breakdown contains no subtasks")
	}

	decomp := &TaskDecomposition{Complexity: resp.Complexity}
	if decomp.Complexity < 1 || decomp.Complexity > 10 {
		decomp.Complexity = 5
	}

	for _, st := range resp.SubTasks {
		id := st.ID
		if id == "" {
			id = uuid.New().String()
		}
		minutes := st.EstimatedMinutes
		if minutes <= 0 {
			minutes = 15
		}
		decomp.SubTasks = append(decomp.SubTasks, SubTask{
			ID:               id,
			ParentTaskID:     task.ID,
			Description:      st.Description,
			Status:           SubTaskPending,
			EstimatedMinutes: minutes,
		})
	}

	for _, dep := range resp.Dependencies {
		kind := DependencyKind(dep.Kind)
		switch kind {
		case DependencySequential, DependencyParallel, DependencyConditional:
		default:
			kind = DependencySequential
		}
		decomp.Dependencies = append(decomp.Dependencies, TaskDependency{
			FromTaskID: dep.From,
			ToTaskID:   dep.To,
			Kind:       kind,
			Condition:  dep.Condition,
		})
	}

	decomp.RequiredCapabilities = requiredCapabilities(decomp.SubTasks, resp.Capabilities)
	return decomp, nil
}

// extractJSON trims any prose the engine wrapped around the JSON object.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

var capabilityKeywords = map[string][]string{
	"analysis":       {"analy", "examin", "assess"},
	"generation":     {"generat", "creat", "write", "draft", "compose"},
	"research":       {"research", "investigat", "find", "gather", "search"},
	"summarization":  {"summar", "condense", "digest"},
	"comparison":     {"compar", "contrast", "benchmark"},
	"calculation":    {"calculat", "comput", "estimat"},
	"visualization":  {"visualiz", "chart", "graph", "plot", "diagram"},
	"translation":    {"translat", "localiz"},
	"classification": {"classif", "categor", "label", "tag"},
	"validation":     {"validat", "verif", "review", "check"},
}

// requiredCapabilities scans each subtask description for keyword
// families and unions the matches with capabilities the engine returned
// directly.
func requiredCapabilities(subtasks []SubTask, fromEngine []string) []string {
	set := make(map[string]bool)
	for _, name := range fromEngine {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			set[name] = true
		}
	}

	for _, st := range subtasks {
		desc := strings.ToLower(st.Description)
		for family, keywords := range capabilityKeywords {
			for _, kw := range keywords {
				if strings.Contains(desc, kw) {
					set[family] = true
					break
				}
			}
		}
	}

	caps := make([]string, 0, len(set))
	for name := range set {
		caps = append(caps, name)
	}
	sort.Strings(caps)
	return caps
}

// fallbackDecomposition wraps the whole task in one subtask so the rest
// of the pipeline always has a valid, non-empty decomposition.
func fallbackDecomposition(task *ComplexTask) *TaskDecomposition {
	return &TaskDecomposition{
		SubTasks: []SubTask{{
			ID:               uuid.New().String(),
			ParentTaskID:     task.ID,
			Description:      task.Description,
			Status:           SubTaskPending,
			EstimatedMinutes: fallbackEstimatedMinutes,
		}},
		Complexity:           5,
		RequiredCapabilities: []string{FallbackCapability},
	}
}
