// ABOUTME: Server lifecycle states shared by the master and its workers
// ABOUTME: States render as lowercase names in logs and the management API

package server

// State is a server or worker lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateServing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
