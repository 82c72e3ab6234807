package machine

// Projection is the UI-facing view of the machine: phase flags plus
// control availability. It is derived from state, never stored.
type Projection struct {
	Recording  bool `json:"recording"`
	HasAudio   bool `json:"has_audio"`
	Processing bool `json:"processing"`

	CanRecord     bool `json:"can_record"`
	CanStop       bool `json:"can_stop"`
	CanTranscribe bool `json:"can_transcribe"`
	CanReset      bool `json:"can_reset"`
}

// Project computes the projection for a state. The machine enforces
// the same transition rules itself; the flags only drive the UI.
func Project(state State, hasAudio bool) Projection {
	return Projection{
		Recording:     state == StateRecording,
		HasAudio:      hasAudio,
		Processing:    state == StateProcessing,
		CanRecord:     state == StateIdle || state == StateCaptured || state == StateError,
		CanStop:       state == StateRecording,
		CanTranscribe: state == StateCaptured && hasAudio,
		CanReset:      state != StateProcessing,
	}
}
