// Package core contains the domain model shared by every subsystem:
// project execution state, checkpoints, episodic memory records, the
// error taxonomy, and the ports consumed from external collaborators.
package core

import (
	"encoding/json"
	"time"
)

// ProjectMode distinguishes greenfield builds from changes to existing code.
type ProjectMode string

const (
	ModeGenesis   ProjectMode = "genesis"
	ModeEvolution ProjectMode = "evolution"
)

// ProjectStatus is the overall execution status of a project.
type ProjectStatus string

const (
	StatusPlanning  ProjectStatus = "planning"
	StatusExecuting ProjectStatus = "executing"
	StatusPaused    ProjectStatus = "paused"
	StatusCompleted ProjectStatus = "completed"
	StatusFailed    ProjectStatus = "failed"
)

// FeaturePriority follows MoSCoW prioritization.
type FeaturePriority string

const (
	PriorityMust   FeaturePriority = "must"
	PriorityShould FeaturePriority = "should"
	PriorityCould  FeaturePriority = "could"
	PriorityWont   FeaturePriority = "wont"
)

// Complexity is a coarse feature sizing signal used by planners.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// TaskType selects the execution strategy for a task.
type TaskType string

const (
	TaskTypeAuto       TaskType = "auto"
	TaskTypeCheckpoint TaskType = "checkpoint"
	TaskTypeTDD        TaskType = "tdd"
)

// TaskSize bounds how much work a single task may carry.
type TaskSize string

const (
	SizeAtomic TaskSize = "atomic"
	SizeSmall  TaskSize = "small"
)

// AgentType identifies an agent's role in the pipeline.
type AgentType string

const (
	AgentPlanner  AgentType = "planner"
	AgentCoder    AgentType = "coder"
	AgentTester   AgentType = "tester"
	AgentReviewer AgentType = "reviewer"
	AgentMerger   AgentType = "merger"
)

// NexusState is the full execution state of one project: metadata plus the
// ordered feature and task collections and the agent pool snapshot. It is
// the unit of persistence for the state manager and the unit of capture
// for checkpoints.
type NexusState struct {
	ProjectID   string        `json:"project_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Mode        ProjectMode   `json:"mode"`
	RootPath    string        `json:"root_path,omitempty"`
	RepoURL     string        `json:"repo_url,omitempty"`
	Status      ProjectStatus `json:"status"`
	Settings    Settings      `json:"settings,omitempty"`
	Features    []Feature     `json:"features"`
	Tasks       []Task        `json:"tasks"`
	Agents      []Agent       `json:"agents"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StateUpdate is a partial update applied to an existing project.
// Nil fields are left untouched.
type StateUpdate struct {
	Status           *ProjectStatus
	CurrentPhase     *string
	LastCheckpointID *string
}

// Feature is a unit of product scope owned by exactly one project.
type Feature struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Priority       FeaturePriority `json:"priority"`
	Status         string          `json:"status"`
	Complexity     Complexity      `json:"complexity,omitempty"`
	EstimatedTasks int             `json:"estimated_tasks"`
	CompletedTasks int             `json:"completed_tasks"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Task is a unit of executable work. FeatureID may be empty (orphan tasks
// are tolerated); DependsOn entries must name tasks that exist in the same
// state.
type Task struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	FeatureID       string    `json:"feature_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Type            TaskType  `json:"type"`
	Status          string    `json:"status"`
	Size            TaskSize  `json:"size,omitempty"`
	Priority        int       `json:"priority"`
	DependsOn       []string  `json:"depends_on,omitempty"`
	QAIterations    int       `json:"qa_iterations"`
	MaxQAIterations int       `json:"max_qa_iterations"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Agent is one member of the flat agent pool. Agents are not strictly
// project-scoped; the pool is re-synchronized (matched by id) on every save.
type Agent struct {
	ID             string     `json:"id"`
	Type           AgentType  `json:"type"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider,omitempty"`
	Model          string     `json:"model,omitempty"`
	Temperature    float64    `json:"temperature"`
	MaxTokens      int        `json:"max_tokens"`
	CurrentTaskID  string     `json:"current_task_id,omitempty"`
	TokensUsed     int64      `json:"tokens_used"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	SpawnedAt      time.Time  `json:"spawned_at"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
}

// Checkpoint is an immutable point-in-time capture of a project's full
// state plus the version-control reference current at capture time.
// Once written it is only ever read or deleted.
type Checkpoint struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Name      string          `json:"name,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	State     json.RawMessage `json:"state"`
	GitCommit string          `json:"git_commit,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DecodeState deserializes the captured state blob.
func (c *Checkpoint) DecodeState() (*NexusState, error) {
	var state NexusState
	if err := json.Unmarshal(c.State, &state); err != nil {
		return nil, ErrRestoreFailed(c.ID, "corrupt state blob").WithCause(err)
	}
	return &state, nil
}

// EpisodeType classifies what kind of agent activity an episode records.
type EpisodeType string

const (
	EpisodeCodeGeneration EpisodeType = "code_generation"
	EpisodeErrorFix       EpisodeType = "error_fix"
	EpisodeReviewFeedback EpisodeType = "review_feedback"
	EpisodeDecision       EpisodeType = "decision"
	EpisodeResearch       EpisodeType = "research"
)

// Episode is one recorded unit of agent activity kept for semantic recall.
// Embedding is optional: storing must succeed even when embedding
// generation fails, at the cost of excluding the episode from similarity
// search.
type Episode struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	Type           EpisodeType    `json:"type"`
	Content        string         `json:"content"`
	Summary        string         `json:"summary,omitempty"`
	Embedding      []float64      `json:"embedding,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	TaskID         string         `json:"task_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	Importance     float64        `json:"importance"`
	AccessCount    int            `json:"access_count"`
	LastAccessedAt *time.Time     `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
