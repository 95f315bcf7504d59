package scan

// StateKind enumerates the session states.
type StateKind int

const (
	StateIdle StateKind = iota
	StateRequestingPermission
	StatePermissionDenied
	StateAcquiring
	StateScanning
	StateProcessing
	StateError
	StateClosed
)

var stateNames = map[StateKind]string{
	StateIdle:                 "idle",
	StateRequestingPermission: "requesting_permission",
	StatePermissionDenied:     "permission_denied",
	StateAcquiring:            "acquiring",
	StateScanning:             "scanning",
	StateProcessing:           "processing",
	StateError:                "error",
	StateClosed:               "closed",
}

func (k StateKind) String() string {
	if n, ok := stateNames[k]; ok {
		return n
	}
	return "unknown"
}

// State is the single tagged session state. Err is set only for StateError
// and StatePermissionDenied.
type State struct {
	Kind StateKind
	Err  *Error
}

// Message is the user-facing detail of an error state.
func (s State) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func (s State) String() string {
	if s.Err != nil {
		return s.Kind.String() + "{" + s.Err.Kind.String() + "}"
	}
	return s.Kind.String()
}

// transitions lists every legal edge of the session state machine. Scanning
// to Scanning (a continuous decode or a torch toggle) is not a transition.
var transitions = map[StateKind][]StateKind{
	StateIdle:                 {StateRequestingPermission, StateClosed},
	StateRequestingPermission: {StateAcquiring, StatePermissionDenied, StateError, StateClosed},
	StatePermissionDenied:     {StateRequestingPermission, StateClosed},
	StateAcquiring:            {StateScanning, StateError, StateClosed},
	StateScanning:             {StateProcessing, StateAcquiring, StateError, StateClosed},
	StateProcessing:           {StateClosed},
	StateError:                {StateRequestingPermission, StateClosed},
	StateClosed:               nil,
}

func canTransition(from, to StateKind) bool {
	for _, k := range transitions[from] {
		if k == to {
			return true
		}
	}
	return false
}
