package orchestrator

import (
	"context"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/agent/controller"
	"github.com/argus-audit/argus/pkg/models"
)

// Instance binds an agent state to the controller that drives it. It is the
// concrete runnable used for both the orchestrator root and every
// dispatched child.
type Instance struct {
	st   *agent.State
	ctrl *controller.Controller
}

var _ agent.Agent = (*Instance)(nil)

func NewInstance(st *agent.State, ctrl *controller.Controller) *Instance {
	return &Instance{st: st, ctrl: ctrl}
}

func (a *Instance) ID() string        { return a.st.AgentID() }
func (a *Instance) Name() string      { return a.st.Name() }
func (a *Instance) Role() models.Role { return a.st.Role() }

func (a *Instance) State() *agent.State { return a.st }

// Run drives the agent to a terminal status. The result is non-nil even on
// failure so callers can harvest partial findings.
func (a *Instance) Run(ctx context.Context, input *agent.RunInput) (*agent.Result, error) {
	return a.ctrl.Run(ctx, a.st, input)
}

// Cancel requests cooperative termination. The loop honors it at the next
// iteration boundary.
func (a *Instance) Cancel() { a.st.RequestStop() }
