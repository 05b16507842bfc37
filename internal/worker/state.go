package worker

// State is the lifecycle state of a [Worker].
type State int32

const (
	// Idle waits for the next request. Initial state.
	Idle State = iota
	// ApplyingRules runs one transcription.
	ApplyingRules
	// ReloadingTable recompiles the rules file.
	ReloadingTable
	// Exited is terminal.
	Exited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ApplyingRules:
		return "applying_rules"
	case ReloadingTable:
		return "reloading_table"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}
