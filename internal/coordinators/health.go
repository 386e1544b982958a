package coordinators

import (
	"context"

	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
	"github.com/unklstewy/bigskies-focuser/pkg/healthcheck"
)

// SessionCheckName is the health component reporting the camera session.
const SessionCheckName = "camera_session"

// newSessionChecker reports the camera session and the last move outcome.
// A closed session is only a problem in persistent mode, or when the last
// move dropped it.
func newSessionChecker(stack *Stack, transport string) healthcheck.Checker {
	return healthcheck.NewChecker(SessionCheckName, func(context.Context) *healthcheck.Result {
		ctrl := stack.Controller
		connected := stack.Sessions.Connected()
		state := ctrl.State()

		result := healthcheck.NewResult(SessionCheckName, healthcheck.StatusHealthy, "Camera session is healthy")
		switch {
		case state == focus.StateDisconnected:
			result.Status = healthcheck.StatusDegraded
			result.Message = "Last move dropped the camera session"
		case !connected && ctrl.Mode() == focus.ModePersistent:
			result.Status = healthcheck.StatusDegraded
			result.Message = "No camera session"
		case !connected:
			result.Message = "Idle, connecting per move"
		}

		result.Details["connected"] = connected
		result.Details["pending"] = stack.Sessions.Pending()
		result.Details["state"] = state.String()
		result.Details["mode"] = string(ctrl.Mode())
		result.Details["position"] = ctrl.Position()
		result.Details["transport"] = transport
		return result
	})
}
