package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type RequirementType string

const (
	RequirementCapability      RequirementType = "capability"
	RequirementDomainKnowledge RequirementType = "domain_knowledge"
	RequirementDataAccess      RequirementType = "data_access"
	RequirementProcessingPower RequirementType = "processing_power"
)

type RequirementImportance string

const (
	ImportanceRequired  RequirementImportance = "required"
	ImportancePreferred RequirementImportance = "preferred"
	ImportanceOptional  RequirementImportance = "optional"
)

type TaskRequirement struct {
	Type        RequirementType       `json:"type"`
	Description string                `json:"description"`
	Importance  RequirementImportance `json:"importance"`
}

// ComplexTask is a unit of work requested by a user. It is immutable once
// decomposition begins, except for attaching the decomposition itself.
type ComplexTask struct {
	ID            string             `json:"id"`
	Description   string             `json:"description"`
	Title         string             `json:"title,omitempty"`
	Category      string             `json:"category,omitempty"`
	Requirements  []TaskRequirement  `json:"requirements,omitempty"`
	Priority      TaskPriority       `json:"priority"`
	Deadline      *time.Time         `json:"deadline,omitempty"`
	Constraints   []string           `json:"constraints,omitempty"`
	Decomposition *TaskDecomposition `json:"decomposition,omitempty"`
}

type SubTaskStatus string

const (
	SubTaskPending    SubTaskStatus = "pending"
	SubTaskInProgress SubTaskStatus = "in_progress"
	SubTaskCompleted  SubTaskStatus = "completed"
	SubTaskFailed     SubTaskStatus = "failed"
)

type SubTask struct {
	ID               string          `json:"id"`
	ParentTaskID     string          `json:"parent_task_id"`
	Description      string          `json:"description"`
	Status           SubTaskStatus   `json:"status"`
	AssignedAgentID  string          `json:"assigned_agent_id,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	EstimatedMinutes int             `json:"estimated_minutes,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
}

// TransitionTo advances the subtask status. Transitions are monotonic:
// pending -> in_progress -> completed|failed. Regressions are rejected.
func (s *SubTask) TransitionTo(next SubTaskStatus) error {
	valid := false
	switch s.Status {
	case SubTaskPending:
		valid = next == SubTaskInProgress
	case SubTaskInProgress:
		valid = next == SubTaskCompleted || next == SubTaskFailed
	}
	if !valid {
		return fmt.Errorf("invalid subtask transition %s -> %s", s.Status, next)
	}

	now := time.Now()
	switch next {
	case SubTaskInProgress:
		s.StartedAt = &now
	case SubTaskCompleted, SubTaskFailed:
		s.CompletedAt = &now
	}
	s.Status = next
	return nil
}

type DependencyKind string

const (
	DependencySequential  DependencyKind = "sequential"
	DependencyParallel    DependencyKind = "parallel"
	DependencyConditional DependencyKind = "conditional"
)

// TaskDependency is a directed edge between two subtasks: ToTaskID cannot
// start before FromTaskID finishes.
type TaskDependency struct {
	FromTaskID string         `json:"from_task_id"`
	ToTaskID   string         `json:"to_task_id"`
	Kind       DependencyKind `json:"kind"`
	Condition  string         `json:"condition,omitempty"`
}

// TaskDecomposition is the subtask graph produced for one ComplexTask.
// The dependency edges must form a DAG over the subtask ids.
type TaskDecomposition struct {
	SubTasks             []SubTask        `json:"subtasks"`
	Dependencies         []TaskDependency `json:"dependencies,omitempty"`
	Complexity           int              `json:"complexity"`
	RequiredCapabilities []string         `json:"required_capabilities,omitempty"`
}

// TotalEstimatedMinutes sums the estimated duration of all subtasks.
func (d *TaskDecomposition) TotalEstimatedMinutes() int {
	total := 0
	for _, st := range d.SubTasks {
		total += st.EstimatedMinutes
	}
	return total
}

type SpecializationLevel string

const (
	LevelNovice       SpecializationLevel = "novice"
	LevelIntermediate SpecializationLevel = "intermediate"
	LevelExpert       SpecializationLevel = "expert"
	LevelMaster       SpecializationLevel = "master"
)

type AgentCapability struct {
	Name        string   `json:"name"`
	Proficiency float64  `json:"proficiency"` // 0-100
	Domains     []string `json:"domains,omitempty"`
}

type AgentSpecialization struct {
	Domain string              `json:"domain"`
	Level  SpecializationLevel `json:"level"`
}

// SwarmCapableAgent is a candidate worker fetched from the agent
// directory. It is consumed, never owned, by this package.
type SwarmCapableAgent struct {
	ID                 string                `json:"id"`
	Name               string                `json:"name"`
	Capabilities       []AgentCapability     `json:"capabilities,omitempty"`
	Specializations    []AgentSpecialization `json:"specializations,omitempty"`
	TrustScore         float64               `json:"trust_score"`         // 0-100
	CollaborationScore float64               `json:"collaboration_score"` // 0-100
	CompletionRate     float64               `json:"completion_rate"`     // 0-100
	SatisfactionScore  float64               `json:"satisfaction_score"`  // 0-100
	CurrentLoad        int                   `json:"current_load"`
	MaxLoad            int                   `json:"max_load"`
	Roles              map[string]float64    `json:"roles,omitempty"` // role -> proficiency 0-100
}

type MessageType string

const (
	MessageTaskRequest     MessageType = "task_request"
	MessageDataShare       MessageType = "data_share"
	MessageResultHandoff   MessageType = "result_handoff"
	MessageCapabilityQuery MessageType = "capability_query"
	MessageStatusUpdate    MessageType = "status_update"
	MessageCoordination    MessageType = "coordination"
)

// BroadcastReceiver addresses a message to every agent in the session.
const BroadcastReceiver = "broadcast"

type AgentMessage struct {
	ID               string          `json:"id"`
	SenderID         string          `json:"sender_id"`
	ReceiverID       string          `json:"receiver_id"`
	Type             MessageType     `json:"type"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
	Priority         TaskPriority    `json:"priority"`
	SessionID        string          `json:"session_id"`
	RequiresResponse bool            `json:"requires_response,omitempty"`
	ResponseTo       string          `json:"response_to,omitempty"`
}

type SessionStatus string

const (
	SessionForming    SessionStatus = "forming"
	SessionActive     SessionStatus = "active"
	SessionCompleting SessionStatus = "completing"
	SessionCompleted  SessionStatus = "completed"
	SessionDissolved  SessionStatus = "dissolved"
	SessionError      SessionStatus = "error"
)

// Terminal reports whether a session in this status can never change again.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionDissolved || s == SessionError
}

type SwarmResult struct {
	ID        string          `json:"id"`
	SubTaskID string          `json:"subtask_id,omitempty"`
	AgentID   string          `json:"agent_id"`
	Output    json.RawMessage `json:"output,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SwarmPerformanceMetrics struct {
	TotalDuration           time.Duration      `json:"total_duration"`
	AgentUtilization        map[string]float64 `json:"agent_utilization,omitempty"`
	CommunicationEfficiency float64            `json:"communication_efficiency"`
	TaskCompletionRate      float64            `json:"task_completion_rate"`
	CollaborationScore      float64            `json:"collaboration_score"`
}

// SwarmSession is the aggregate root created per orchestration request.
// All mutable state in this core hangs off a session; mutations are
// serialized per session by the orchestrator.
type SwarmSession struct {
	ID            string                   `json:"id"`
	UserID        string                   `json:"user_id"`
	AgentIDs      []string                 `json:"agent_ids"`
	CoordinatorID string                   `json:"coordinator_id"`
	Task          ComplexTask              `json:"task"`
	Status        SessionStatus            `json:"status"`
	MessageLog    []AgentMessage           `json:"message_log,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	LastActivity  time.Time                `json:"last_activity"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Results       []SwarmResult            `json:"results,omitempty"`
	Metrics       *SwarmPerformanceMetrics `json:"metrics,omitempty"`
}

type AgentHealth string

const (
	AgentActive       AgentHealth = "active"
	AgentIdle         AgentHealth = "idle"
	AgentOverloaded   AgentHealth = "overloaded"
	AgentUnresponsive AgentHealth = "unresponsive"
	AgentError        AgentHealth = "error"
)

type HealthBand string

const (
	HealthExcellent HealthBand = "excellent"
	HealthGood      HealthBand = "good"
	HealthFair      HealthBand = "fair"
	HealthPoor      HealthBand = "poor"
	HealthCritical  HealthBand = "critical"
)

type IssueType string

const (
	IssueCommunication IssueType = "communication"
	IssuePerformance   IssueType = "performance"
	IssueResource      IssueType = "resource"
	IssueLogic         IssueType = "logic"
	IssueTimeline      IssueType = "timeline"
)

type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

type SwarmIssue struct {
	Type             IssueType     `json:"type"`
	Severity         IssueSeverity `json:"severity"`
	Description      string        `json:"description"`
	AffectedAgents   []string      `json:"affected_agents,omitempty"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`
}

type AgentHealthStatus struct {
	AgentID          string        `json:"agent_id"`
	Health           AgentHealth   `json:"health"`
	LastMessageAge   time.Duration `json:"last_message_age"`
	AssignedSubTasks int           `json:"assigned_subtasks"`
	ErrorRate        float64       `json:"error_rate"`
}

type CommunicationHealth struct {
	MessageVolume          int           `json:"message_volume"`
	AvgResponseLatency     time.Duration `json:"avg_response_latency"`
	FailedMessageRate      float64       `json:"failed_message_rate"`
	CoordinationEfficiency float64       `json:"coordination_efficiency"`
	Bottlenecks            []string      `json:"bottlenecks,omitempty"`
}

type TaskProgressHealth struct {
	CompletedSubTasks      int           `json:"completed_subtasks"`
	TotalSubTasks          int           `json:"total_subtasks"`
	BlockedTasks           []string      `json:"blocked_tasks,omitempty"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
	CriticalPathProgress   float64       `json:"critical_path_progress"`
}

// SwarmHealthReport is a point-in-time snapshot. Reports are kept only in
// a bounded in-memory history, never persisted.
type SwarmHealthReport struct {
	SessionID       string              `json:"session_id"`
	GeneratedAt     time.Time           `json:"generated_at"`
	Overall         HealthBand          `json:"overall"`
	Score           float64             `json:"score"`
	Agents          []AgentHealthStatus `json:"agents"`
	Communication   CommunicationHealth `json:"communication"`
	Progress        TaskProgressHealth  `json:"progress"`
	Issues          []SwarmIssue        `json:"issues,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
}

// AgentCriteria narrows a directory query for candidate workers.
type AgentCriteria struct {
	Capabilities  []string `json:"capabilities,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	AvailableOnly bool     `json:"available_only,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"` // "trust", "completion_rate", ""
}

// Directory is the external agent directory queried for candidates.
type Directory interface {
	FindCandidateAgents(ctx context.Context, criteria AgentCriteria, userID string) ([]SwarmCapableAgent, error)
}

// Transport delivers messages between the coordinator and agents.
// Delivery guarantees belong to the transport, not to this package.
type Transport interface {
	SendMessage(ctx context.Context, msg AgentMessage) error
	InitializeSwarmCommunication(ctx context.Context, session *SwarmSession) error
	SendTaskAssignment(ctx context.Context, sessionID, agentID string, sub SubTask) error
	NotifySwarmDissolution(ctx context.Context, session *SwarmSession) error
	PublishEvent(sessionID, eventType string, data map[string]any)
}

// SessionStore persists swarm sessions across restarts.
type SessionStore interface {
	SaveSession(session *SwarmSession) error
	LoadSession(id string) (*SwarmSession, error)
	LoadUserSessions(userID string) ([]*SwarmSession, error)
	DeleteTerminalSessionsBefore(cutoff time.Time) (int, error)
}

// ErrorRateSampler supplies per-agent error rates to the monitor. The
// source system left this as a measurement point; implementations may
// read real metrics or return zero.
type ErrorRateSampler interface {
	ErrorRate(sessionID, agentID string) float64
}

type zeroSampler struct{}

func (zeroSampler) ErrorRate(string, string) float64 { return 0 }

// NopSampler reports a zero error rate for every agent.
var NopSampler ErrorRateSampler = zeroSampler{}
