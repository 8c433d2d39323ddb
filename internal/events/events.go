package events

// Event type constants.
const (
	TypeFeatureCompleted   = "feature:completed"
	TypeTaskEscalated      = "task:escalated"
	TypeCheckpointCreated  = "checkpoint-created"
	TypeCheckpointRestored = "checkpoint-restored"
	TypeStateSaved         = "state:saved"
	TypeStateDeleted       = "state:deleted"
)

// FeatureCompletedEvent signals that every task of a feature finished.
type FeatureCompletedEvent struct {
	BaseEvent
	FeatureID   string `json:"feature_id"`
	FeatureName string `json:"feature_name,omitempty"`
}

// NewFeatureCompletedEvent creates a feature completed event.
func NewFeatureCompletedEvent(projectID, featureID, featureName string) FeatureCompletedEvent {
	return FeatureCompletedEvent{
		BaseEvent:   NewBaseEvent(TypeFeatureCompleted, projectID),
		FeatureID:   featureID,
		FeatureName: featureName,
	}
}

// TaskEscalatedEvent signals that a task exhausted its QA budget and needs
// human attention.
type TaskEscalatedEvent struct {
	BaseEvent
	TaskID     string `json:"task_id"`
	Reason     string `json:"reason"`
	Iterations int    `json:"iterations"`
	LastError  string `json:"last_error,omitempty"`
}

// NewTaskEscalatedEvent creates a task escalated event.
func NewTaskEscalatedEvent(projectID, taskID, reason string, iterations int, lastError string) TaskEscalatedEvent {
	return TaskEscalatedEvent{
		BaseEvent:  NewBaseEvent(TypeTaskEscalated, projectID),
		TaskID:     taskID,
		Reason:     reason,
		Iterations: iterations,
		LastError:  lastError,
	}
}

// CheckpointCreatedEvent is published after a checkpoint row is committed.
type CheckpointCreatedEvent struct {
	BaseEvent
	CheckpointID string `json:"checkpoint_id"`
	Reason       string `json:"reason,omitempty"`
	GitCommit    string `json:"git_commit,omitempty"`
}

// NewCheckpointCreatedEvent creates a checkpoint created event.
func NewCheckpointCreatedEvent(projectID, checkpointID, reason, gitCommit string) CheckpointCreatedEvent {
	return CheckpointCreatedEvent{
		BaseEvent:    NewBaseEvent(TypeCheckpointCreated, projectID),
		CheckpointID: checkpointID,
		Reason:       reason,
		GitCommit:    gitCommit,
	}
}

// CheckpointRestoredEvent is published after state is overwritten from a
// checkpoint.
type CheckpointRestoredEvent struct {
	BaseEvent
	CheckpointID string `json:"checkpoint_id"`
	GitRestored  bool   `json:"git_restored"`
}

// NewCheckpointRestoredEvent creates a checkpoint restored event.
func NewCheckpointRestoredEvent(projectID, checkpointID string, gitRestored bool) CheckpointRestoredEvent {
	return CheckpointRestoredEvent{
		BaseEvent:    NewBaseEvent(TypeCheckpointRestored, projectID),
		CheckpointID: checkpointID,
		GitRestored:  gitRestored,
	}
}

// StateSavedEvent is published after a full state save commits.
type StateSavedEvent struct {
	BaseEvent
	Features int `json:"features"`
	Tasks    int `json:"tasks"`
}

// NewStateSavedEvent creates a state saved event.
func NewStateSavedEvent(projectID string, features, tasks int) StateSavedEvent {
	return StateSavedEvent{
		BaseEvent: NewBaseEvent(TypeStateSaved, projectID),
		Features:  features,
		Tasks:     tasks,
	}
}

// StateDeletedEvent is published after a project's state is removed.
type StateDeletedEvent struct {
	BaseEvent
}

// NewStateDeletedEvent creates a state deleted event.
func NewStateDeletedEvent(projectID string) StateDeletedEvent {
	return StateDeletedEvent{BaseEvent: NewBaseEvent(TypeStateDeleted, projectID)}
}
