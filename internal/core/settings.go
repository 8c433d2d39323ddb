package core

// Settings is the open-ended key/value blob stored on the project row.
// Structured fields the core cares about (current phase, last checkpoint)
// ride inside it under fixed keys so that consumers of the raw blob keep
// working as fields are added. Writes must preserve unknown keys.
type Settings map[string]any

const (
	settingCurrentPhase     = "currentPhase"
	settingLastCheckpointID = "lastCheckpointId"
)

// Clone returns a shallow copy safe to mutate independently.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CurrentPhase returns the phase label, or "" if unset.
func (s Settings) CurrentPhase() string {
	return s.stringKey(settingCurrentPhase)
}

// SetCurrentPhase folds the phase label into the blob.
func (s Settings) SetCurrentPhase(phase string) {
	if phase == "" {
		delete(s, settingCurrentPhase)
		return
	}
	s[settingCurrentPhase] = phase
}

// LastCheckpointID returns the last checkpoint reference, or "" if unset.
func (s Settings) LastCheckpointID() string {
	return s.stringKey(settingLastCheckpointID)
}

// SetLastCheckpointID folds the checkpoint reference into the blob.
func (s Settings) SetLastCheckpointID(id string) {
	if id == "" {
		delete(s, settingLastCheckpointID)
		return
	}
	s[settingLastCheckpointID] = id
}

func (s Settings) stringKey(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}
