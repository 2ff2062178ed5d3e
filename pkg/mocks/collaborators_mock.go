// Package mocks provides testify mocks for the engine collaborators.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockSender is a mock implementation of protocol.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, credential string, msg protocol.OutgoingMessage) (protocol.Delivery, error) {
	args := m.Called(ctx, credential, msg)

	return args.Get(0).(protocol.Delivery), args.Error(1)
}

// MockOperationInvoker is a mock implementation of protocol.OperationInvoker.
type MockOperationInvoker struct {
	mock.Mock
}

func (m *MockOperationInvoker) Invoke(ctx context.Context, tenant models.Tenant, name string, params map[string]any) (any, error) {
	args := m.Called(ctx, tenant, name, params)

	return args.Get(0), args.Error(1)
}

func (m *MockOperationInvoker) Idempotent(name string) bool {
	args := m.Called(name)

	return args.Bool(0)
}

// MockScheduler is a mock implementation of protocol.Scheduler.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) ScheduleReentry(ctx context.Context, executionID string, fireAt time.Time) (string, error) {
	args := m.Called(ctx, executionID, fireAt)

	return args.String(0), args.Error(1)
}

// MockTenantResolver is a mock implementation of protocol.TenantResolver.
type MockTenantResolver struct {
	mock.Mock
}

func (m *MockTenantResolver) Tenant(ctx context.Context, projectID string) (models.Tenant, error) {
	args := m.Called(ctx, projectID)

	return args.Get(0).(models.Tenant), args.Error(1)
}
