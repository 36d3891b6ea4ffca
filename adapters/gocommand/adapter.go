// Package gocommand wires the module's command and query handlers into a
// go-command registry plus the process-wide dispatcher, so hosts drive the
// protocol through message dispatch instead of direct calls.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	protect "github.com/goliatone/go-protect"
)

// ValidateMessageContract enforces the Type() plus optional Validate()
// contract before a message reaches the dispatcher.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) guard() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return nil
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if err := a.guard(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery shares the command registration path; go-command keeps one
// registry for both message kinds.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	return a.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.guard(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a.guard() != nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.guard(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// registerSubscribed pairs a live dispatcher subscription with registry
// membership; when registration fails the subscription is torn down so the
// dispatcher never routes to an unregistered handler.
func registerSubscribed(subscription commanddispatcher.Subscription, register func() error) (commanddispatcher.Subscription, error) {
	if err := register(); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.guard(); err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	return registerSubscribed(SubscribeCommand(cmd, runnerOpts...), func() error {
		return adapter.RegisterCommand(cmd)
	})
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if err := adapter.guard(); err != nil {
		return nil, err
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	return registerSubscribed(SubscribeQuery(qry, runnerOpts...), func() error {
		return adapter.RegisterQuery(qry)
	})
}

// RegisterFacadeHandlers registers every protect command and query on the
// registry and subscribes them to the dispatcher. The returned
// subscriptions are unwound in reverse order when any registration fails.
func RegisterFacadeHandlers(
	adapter *RegistryAdapter,
	facade *protect.Facade,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if err := adapter.guard(); err != nil {
		return nil, err
	}
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}

	commands := facade.Commands()
	queries := facade.Queries()
	subscriptions := make([]commanddispatcher.Subscription, 0, 12)
	unwind := func() {
		for i := len(subscriptions) - 1; i >= 0; i-- {
			subscriptions[i].Unsubscribe()
		}
	}
	track := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			unwind()
			return err
		}
		subscriptions = append(subscriptions, sub)
		return nil
	}

	if err := track(RegisterAndSubscribe(adapter, commands.PreRegister, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.CompleteRegistration, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.UpdateFlags, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.PreAuthorizeUpgrade, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.DispatchProtectedCall, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.OverrideAuthorization, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.OverrideRegistration, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.OverrideAuthorizationBatch, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribe(adapter, commands.OverrideRegistrationBatch, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribeQuery(adapter, queries.GetStatus, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribeQuery(adapter, queries.QueryFlag, runnerOpts...)); err != nil {
		return nil, err
	}
	if err := track(RegisterAndSubscribeQuery(adapter, queries.QueryFlags, runnerOpts...)); err != nil {
		return nil, err
	}

	return subscriptions, nil
}
