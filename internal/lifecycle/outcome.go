package lifecycle

import "fmt"

// OutcomeKind is the terminal result of a termination request.
type OutcomeKind string

const (
	Terminated       OutcomeKind = "terminated"
	Killed           OutcomeKind = "killed"
	NotFound         OutcomeKind = "not_found"
	PermissionDenied OutcomeKind = "permission_denied"
	Failed           OutcomeKind = "error"
)

// Outcome is the result of one Terminate call.
type Outcome struct {
	Kind    OutcomeKind `json:"kind" yaml:"kind"`
	PID     int32       `json:"pid" yaml:"pid"`
	Name    string      `json:"name,omitempty" yaml:"name,omitempty"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
}

// Status renders the outcome as a one-line status message.
func (o Outcome) Status() string {
	switch o.Kind {
	case Terminated:
		return fmt.Sprintf("Process '%s' (PID: %d) terminated", o.Name, o.PID)
	case Killed:
		return fmt.Sprintf("Process '%s' (PID: %d) killed", o.Name, o.PID)
	case NotFound:
		return fmt.Sprintf("Process %d not found (already terminated)", o.PID)
	case PermissionDenied:
		return fmt.Sprintf("Permission denied to terminate process %d", o.PID)
	default:
		return fmt.Sprintf("Error terminating process %d: %s", o.PID, o.Message)
	}
}
