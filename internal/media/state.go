package media

// ProgressState is the predictor's playback state machine.
//
// Valid transitions:
//   - Unknown/Idle → Loading (session appeared, no usable sample yet)
//   - Loading      → Playing (first playing sample)
//   - Playing      ⇄ Paused
//   - Playing      ⇄ Seeking (seek detected or user-initiated)
//   - any          → Stopped (source loss)
//   - Stopped      → Idle    (reset)
//
// Only the progress predictor drives transitions; everything else treats
// the state as read-only.
type ProgressState int

const (
	StateUnknown ProgressState = iota
	StateIdle
	StateLoading
	StatePlaying
	StatePaused
	StateSeeking
	StateStopped
)

// String returns the state name.
func (s ProgressState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateSeeking:
		return "Seeking"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsActive returns true while a session is meaningfully attached
// (playing, paused or mid-seek).
func (s ProgressState) IsActive() bool {
	return s == StatePlaying || s == StatePaused || s == StateSeeking
}

// Advancing returns true when the displayed position should move with
// wall-clock time.
func (s ProgressState) Advancing() bool {
	return s == StatePlaying || s == StateSeeking
}
