package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/convoflow/pkg/channels/gochannel"
	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/config"
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/mocks"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/persistence/file"
	"github.com/dukex/convoflow/pkg/protocol"
	"github.com/dukex/convoflow/pkg/scheduler"
	"github.com/dukex/convoflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type workerFixture struct {
	store  persistence.Persistence
	bus    eventbus.EventBus
	sender *mocks.MockSender
	engine *engine.Engine
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	flow := testutil.NewFlow("hello").
		Nodes(
			testutil.Trigger("start", models.TriggerCommand, "/start"),
			testutil.Message("hi", "Hi {{telegram.username}}"),
		).
		Connect("start", "hi").
		Entry("start").
		Build()
	require.NoError(t, store.FlowRepository().Publish(context.Background(), flow))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	sender := &mocks.MockSender{}
	sender.On("Send", mock.Anything, "123:token", mock.Anything).Return(protocol.Delivery{ProviderMessageID: "1"}, nil).Maybe()

	tenants, err := config.NewTenants(models.Tenant{ProjectID: "project-1", BotToken: "123:token"})
	require.NoError(t, err)

	registry := cmd.NewRegistry(slog.Default(), sender, cmd.NewOperations(slog.Default()),
		scheduler.NewScheduler(store.TimerRepository(), slog.Default()))

	eng := engine.New(engine.Dependencies{
		Registry:   registry,
		Flows:      store.FlowRepository(),
		Executions: store.ExecutionRepository(),
		Logs:       store.LogRepository(),
		Tenants:    tenants,
		Publisher:  bus,
	}, slog.Default())

	return &workerFixture{store: store, bus: bus, sender: sender, engine: eng}
}

func TestWorkerManager_AppliesPublishedEvents(t *testing.T) {
	f := newWorkerFixture(t)

	finished := make(chan *events.ExecutionFinished, 1)
	require.NoError(t, f.bus.Handle(events.ExecutionFinishedType, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionFinished)

		return nil
	}))

	poller := scheduler.NewPoller(f.store.TimerRepository(), f.bus, slog.Default(), scheduler.WithInterval(time.Hour))
	worker := NewWorkerManager("worker-test", f.engine, f.bus, slog.Default(), poller)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- worker.Start(ctx) }()

	received := events.NewEventReceived(*testutil.CommandEvent("hello", "42", "/start"))
	require.NoError(t, f.bus.Publish(context.Background(), received.Key(), received))

	select {
	case event := <-finished:
		assert.Equal(t, models.ExecutionCompleted, event.Status)
		assert.Equal(t, "hello", event.FlowID)
		assert.Equal(t, 2, event.StepCount)
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not finish")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	f.sender.AssertCalled(t, "Send", mock.Anything, "123:token", mock.MatchedBy(func(msg protocol.OutgoingMessage) bool {
		return msg.ChatID == "42" && msg.Text == "Hi tester"
	}))
}

func TestWorkerManager_DropsEventsThatCannotApply(t *testing.T) {
	f := newWorkerFixture(t)
	worker := NewWorkerManager("worker-test", f.engine, f.bus, slog.Default())

	ctx := context.Background()

	unknownFlow := events.NewEventReceived(*testutil.CommandEvent("missing", "42", "/start"))
	assert.NoError(t, worker.handleEventReceived(ctx, unknownFlow))

	invalid := events.NewEventReceived(models.Event{Type: models.EventMessage})
	assert.NoError(t, worker.handleEventReceived(ctx, invalid))

	unknownExecution := events.NewEventReceived(models.Event{Type: models.EventTimer, ExecutionID: "nope", JobID: "job"})
	assert.NoError(t, worker.handleEventReceived(ctx, unknownExecution))

	assert.NoError(t, worker.handleEventReceived(ctx, "not an event"))
}

func TestWorkerManager_NacksBusyExecution(t *testing.T) {
	f := newWorkerFixture(t)
	worker := NewWorkerManager("worker-test", f.engine, f.bus, slog.Default())

	state, _, err := f.store.ExecutionRepository().Create(context.Background(), models.NewExecution{
		ProjectID: "project-1", FlowID: "hello", FlowVersion: 1, EntryNodeID: "start", ChatID: "42",
	})
	require.NoError(t, err)

	event := *testutil.CommandEvent("hello", "42", "/start")
	event.ExecutionID = state.ID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = worker.handleEventReceived(ctx, events.NewEventReceived(event))
	require.ErrorIs(t, err, engine.ErrExecutionBusy)
}
