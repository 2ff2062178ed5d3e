// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/convoflow/pkg/operations"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/registry"
)

const operationTimeout = 30 * time.Second

// NewOperations returns the operation registry with the built-in operations registered.
func NewOperations(logger *slog.Logger) *operations.Registry {
	ops := operations.NewRegistry(logger)
	operations.RegisterBuiltins(ops, &http.Client{Timeout: operationTimeout})

	return ops
}

// NewRegistry builds the node handler registry over the runtime collaborators.
func NewRegistry(logger *slog.Logger, sender protocol.Sender, invoker protocol.OperationInvoker, scheduler protocol.Scheduler) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(registry.Collaborators{
		Sender:     sender,
		Operations: invoker,
		Scheduler:  scheduler,
	})

	return reg
}
