package checkpoint

import (
	"fmt"
	"strings"
)

// Trigger identifies what caused an automatic checkpoint.
type Trigger string

const (
	TriggerScheduled       Trigger = "scheduled"
	TriggerFeatureComplete Trigger = "feature_complete"
	TriggerQAExhausted     Trigger = "qa_exhausted"
	TriggerTaskFailed      Trigger = "task_failed"
	TriggerHumanRequest    Trigger = "human_request"
)

// autoReasonPrefix marks checkpoint reasons written by the scheduler and
// other automatic paths, as opposed to operator-supplied reasons.
const autoReasonPrefix = "auto:"

// Valid reports whether the trigger is part of the known vocabulary.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerScheduled, TriggerFeatureComplete, TriggerQAExhausted,
		TriggerTaskFailed, TriggerHumanRequest:
		return true
	}
	return false
}

// Reason renders the trigger as a stored checkpoint reason.
func (t Trigger) Reason() string {
	return autoReasonPrefix + string(t)
}

// ParseTrigger extracts the trigger from a stored checkpoint reason.
// Returns an error for reasons not written by an automatic path.
func ParseTrigger(reason string) (Trigger, error) {
	raw, ok := strings.CutPrefix(reason, autoReasonPrefix)
	if !ok {
		return "", fmt.Errorf("reason %q is not an automatic checkpoint reason", reason)
	}
	t := Trigger(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown checkpoint trigger %q", raw)
	}
	return t, nil
}
