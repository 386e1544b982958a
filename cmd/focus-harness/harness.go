package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/coordinators"
	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
)

type stepKind string

const (
	stepConnect        stepKind = "connect"
	stepDisconnect     stepKind = "disconnect"
	stepMove           stepKind = "move"
	stepMoveDisconnect stepKind = "move-disconnect"
	stepProbe          stepKind = "probe"
	stepStatus         stepKind = "status"
	stepPorts          stepKind = "ports"
)

type step struct {
	kind     stepKind
	position int
}

// parseSteps turns the argument list into steps. move and move-disconnect
// consume the following argument as the target position.
func parseSteps(args []string) ([]step, error) {
	if len(args) == 0 {
		return nil, errors.New("no steps given")
	}

	var steps []step
	for i := 0; i < len(args); i++ {
		kind := stepKind(args[i])
		switch kind {
		case stepConnect, stepDisconnect, stepProbe, stepStatus, stepPorts:
			steps = append(steps, step{kind: kind})
		case stepMove, stepMoveDisconnect:
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s: missing position", kind)
			}
			i++
			pos, err := strconv.Atoi(args[i])
			if err != nil {
				return nil, fmt.Errorf("%s: invalid position %q", kind, args[i])
			}
			steps = append(steps, step{kind: kind, position: pos})
		default:
			return nil, fmt.Errorf("unknown step %q", args[i])
		}
	}
	return steps, nil
}

type harness struct {
	stack  *coordinators.Stack
	out    io.Writer
	logger *zap.Logger
}

// run executes the steps in order and prints the status after each one. It
// stops at the first failure.
func (h *harness) run(steps []step) error {
	for _, s := range steps {
		if err := h.exec(s); err != nil {
			return fmt.Errorf("%s: %w", s.kind, err)
		}
		if err := h.printStatus(s.kind); err != nil {
			return err
		}
	}
	return nil
}

func (h *harness) exec(s step) error {
	ctrl := h.stack.Controller
	sessions := h.stack.Sessions

	switch s.kind {
	case stepConnect:
		if err := sessions.ConnectBlocking(); err != nil {
			return err
		}
		if !sessions.Connected() {
			return camera.ErrDeviceDisconnected
		}
		dev, _ := sessions.Device()
		h.logger.Info("Connected", zap.Stringer("device", dev))
		return nil
	case stepDisconnect:
		sessions.Disconnect()
		return nil
	case stepMove:
		return ctrl.Move(s.position)
	case stepMoveDisconnect:
		return ctrl.ConnectAndMove(s.position)
	case stepProbe:
		return ctrl.ProbeStepRange()
	case stepStatus:
		return nil
	case stepPorts:
		ports, err := camera.ListSerialPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(h.out, p)
		}
		return nil
	default:
		return fmt.Errorf("unknown step %q", s.kind)
	}
}

func (h *harness) printStatus(kind stepKind) error {
	data, err := json.Marshal(struct {
		Step   stepKind    `json:"step"`
		Status interface{} `json:"status"`
	}{kind, h.stack.Controller.Status()})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(h.out, string(data))
	return err
}
