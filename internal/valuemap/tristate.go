package valuemap

// TriState is a play/pause/stop value carried as one float.
type TriState int

const (
	Stop TriState = iota
	Pause
	Play
)

// Band limits of the composite encoding. Values below StopBelow mean stop,
// below PauseBelow pause, everything else play.
const (
	StopBelow  = 0.33
	PauseBelow = 0.66
)

// ClassifyTriState decodes a composite command value.
func ClassifyTriState(v float64) TriState {
	switch {
	case v < StopBelow:
		return Stop
	case v < PauseBelow:
		return Pause
	default:
		return Play
	}
}

// Canonical returns the value reported to the server for s: 0, 0.5 or 1.
func (s TriState) Canonical() float64 {
	switch s {
	case Play:
		return 1
	case Pause:
		return 0.5
	default:
		return 0
	}
}

func (s TriState) String() string {
	switch s {
	case Play:
		return "play"
	case Pause:
		return "pause"
	default:
		return "stop"
	}
}

// ParseTriState maps a player state word ("play", "pause", "stop") to a
// TriState. Unknown words are reported as not ok.
func ParseTriState(word string) (TriState, bool) {
	switch word {
	case "play":
		return Play, true
	case "pause":
		return Pause, true
	case "stop":
		return Stop, true
	}
	return Stop, false
}
