// Package broker fans chat stream events out to observers. Each thread maps
// to a topic; subscribers attach a Hook and receive every event published for
// that thread. The in-process broker suits a single gateway instance, while
// the NATS broker lets dashboards and background consumers follow streams
// across processes.
package broker

import (
	"context"

	"github.com/dealcoach/gateway/events"
)

type Broker interface {
	Topic(context.Context, string) Topic
}

type Topic interface {
	Publish(context.Context, events.Event) error
	Subscribe(context.Context, Hook) (Subscription, error)
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Hook receives the events published on a topic. Implementations must not
// block; a slow hook eventually gets its subscription dropped.
type Hook interface {
	OnThreadInfo(context.Context, events.ThreadInfo)
	OnContent(context.Context, events.Content)
	OnFunctionCall(context.Context, events.FunctionCall)
	OnFunctionResult(context.Context, events.FunctionResult)
	OnStreamComplete(context.Context, events.StreamComplete)
	OnError(context.Context, error)
}

// NoopHook implements Hook with no behavior, for embedding when an observer
// only cares about a subset of events.
type NoopHook struct{}

func (NoopHook) OnThreadInfo(context.Context, events.ThreadInfo)         {}
func (NoopHook) OnContent(context.Context, events.Content)               {}
func (NoopHook) OnFunctionCall(context.Context, events.FunctionCall)     {}
func (NoopHook) OnFunctionResult(context.Context, events.FunctionResult) {}
func (NoopHook) OnStreamComplete(context.Context, events.StreamComplete) {}
func (NoopHook) OnError(context.Context, error)                          {}

func forwardToHook(ctx context.Context, ch <-chan events.Event, hook Hook) {
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event := event.(type) {
			case events.ThreadInfo:
				hook.OnThreadInfo(ctx, event)
			case events.Content:
				hook.OnContent(ctx, event)
			case events.FunctionCall:
				hook.OnFunctionCall(ctx, event)
			case events.FunctionResult:
				hook.OnFunctionResult(ctx, event)
			case events.StreamComplete:
				hook.OnStreamComplete(ctx, event)
			case events.Error:
				hook.OnError(ctx, event)
			}
		case <-ctx.Done():
			return
		}
	}
}
