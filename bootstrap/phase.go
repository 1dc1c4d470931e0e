package bootstrap

// Phase is the node lifecycle label.  Phases are totally ordered and
// advance monotonically within one bootstrap run; Failed is terminal.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDiscovering
	PhaseAnnouncing
	PhaseHandshaking
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseDiscovering:
		return "discovering"
	case PhaseAnnouncing:
		return "announcing"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
