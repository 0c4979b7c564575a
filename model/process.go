package model

// Phase is the pipeline phase of a session.
type Phase string

// Phase constants
const (
	PhaseIdle          Phase = "idle"
	PhaseExtracting    Phase = "extracting"
	PhaseStandardizing Phase = "standardizing"
	PhaseCompleted     Phase = "completed"
	PhaseError         Phase = "error"
)

// Busy reports whether a pipeline run is in flight.
func (p Phase) Busy() bool {
	return p == PhaseExtracting || p == PhaseStandardizing
}

// ProcessSnapshot is a consistent, read-only copy of a session's process state.
type ProcessSnapshot struct {
	Phase            Phase  `json:"phase"`
	ExtractedText    string `json:"extracted_text"`
	StandardizedText string `json:"standardized_text"`
	LastError        string `json:"last_error,omitempty"`
}
