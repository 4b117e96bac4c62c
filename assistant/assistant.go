// Package assistant abstracts the hosted model backend behind a streaming
// interface. A provider turns one chat request into an ordered stream of
// events: content deltas, tool activity, and a terminal response. Raw
// payloads ride along on chunk and terminal events so the accounting layer
// can extract token usage without the provider knowing about ledgers.
package assistant

import (
	"context"

	"github.com/dealcoach/gateway/tool"
)

// Request is one chat turn against the assistant.
type Request struct {
	// ThreadID identifies the conversation. Providers may use it to scope
	// server-side state; the gateway guarantees it is non-empty.
	ThreadID string
	// Instructions is the system prompt.
	Instructions string
	// AdditionalInstructions is appended to the system prompt when set.
	AdditionalInstructions string
	// Message is the fully rendered user message, context block included.
	Message string
	// Tools the assistant may invoke during this turn.
	Tools []tool.Definition
}

// Provider streams one chat turn. The returned channel is closed when the
// turn is done; a Failure event, when present, is the last event before
// close.
type Provider interface {
	Stream(context.Context, Request) (<-chan StreamEvent, error)
}

// StreamEvent is one occurrence in a provider's stream.
type StreamEvent interface {
	streamEvent()
}

// Chunk is a streamed delta. Content may be empty on bookkeeping chunks;
// Raw always carries the provider payload the delta came from.
type Chunk struct {
	Content string
	Raw     any
}

func (Chunk) streamEvent() {}

// ToolCall reports that the model requested a tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (ToolCall) streamEvent() {}

// ToolResult reports the outcome of a tool invocation.
type ToolResult struct {
	Name   string
	Result string
}

func (ToolResult) streamEvent() {}

// Terminal is the final response of the turn. Raw carries the provider's
// completed response payload.
type Terminal struct {
	Content string
	Raw     any
}

func (Terminal) streamEvent() {}

// Failure aborts the turn.
type Failure struct {
	Err error
}

func (Failure) streamEvent() {}
