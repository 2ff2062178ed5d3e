package registry

import (
	"github.com/dukex/convoflow/pkg/nodes/action"
	"github.com/dukex/convoflow/pkg/nodes/condition"
	"github.com/dukex/convoflow/pkg/nodes/delay"
	"github.com/dukex/convoflow/pkg/nodes/end"
	"github.com/dukex/convoflow/pkg/nodes/message"
	"github.com/dukex/convoflow/pkg/nodes/trigger"
	"github.com/dukex/convoflow/pkg/protocol"
)

// Collaborators are the outside services the built-in handlers call.
type Collaborators struct {
	Sender     protocol.Sender
	Operations protocol.OperationInvoker
	Scheduler  protocol.Scheduler
}

// RegisterDefaultNodes registers a handler for every built-in node kind.
func (r *Registry) RegisterDefaultNodes(c Collaborators, actionOpts ...action.Option) {
	handlers := []protocol.Handler{
		trigger.NewHandler(),
		message.NewHandler(c.Sender),
		action.NewHandler(c.Operations, actionOpts...),
		condition.NewHandler(),
		delay.NewHandler(c.Scheduler),
		end.NewHandler(),
	}

	for _, handler := range handlers {
		if err := r.Register(handler); err != nil {
			panic(err)
		}
	}
}
