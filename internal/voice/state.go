package voice

// Phase is the single enumerated state of a voice session. Phases are never
// decomposed into independent booleans, so impossible combinations (such as
// listening while speaking) cannot be represented.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingPermission
	PhaseListening
	PhaseThinking
	PhaseSpeaking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingPermission:
		return "awaiting-permission"
	case PhaseListening:
		return "listening"
	case PhaseThinking:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// Snapshot is the externally visible session state handed to observers
// after every transition. Transcript is non-empty only while listening;
// LastResponse persists until replaced; Notice carries transient
// user-facing messages (permission denials, transient errors).
type Snapshot struct {
	Phase        Phase
	Muted        bool
	Transcript   string
	LastResponse string
	Notice       string
	Gen          uint64
}
