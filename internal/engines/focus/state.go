package focus

import (
	"fmt"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
)

// State is the phase of the focus move protocol.
type State int

const (
	StateIdle State = iota
	StateLiveViewEnabling
	StateDriving
	StateLiveViewDisabling
	// StateDisconnected follows a move that dropped the session.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLiveViewEnabling:
		return "liveview_enabling"
	case StateDriving:
		return "driving"
	case StateLiveViewDisabling:
		return "liveview_disabling"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how MoveTo manages the session.
type Mode string

const (
	// ModeScoped connects for each move and disconnects afterwards.
	ModeScoped Mode = "scoped"
	// ModePersistent moves within a session the caller holds open.
	ModePersistent Mode = "persistent"
)

// ParseMode parses a configured mode. Empty selects ModeScoped.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeScoped:
		return ModeScoped, nil
	case ModePersistent:
		return ModePersistent, nil
	default:
		return "", fmt.Errorf("unknown focus mode %q (want %q or %q)", s, ModeScoped, ModePersistent)
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	Position  int              `json:"position"`
	MaxStep   int              `json:"max_step"`
	Range     camera.StepRange `json:"range"`
	IsMoving  bool             `json:"is_moving"`
	Connected bool             `json:"connected"`
	State     string           `json:"state"`
	Mode      Mode             `json:"mode"`
}
