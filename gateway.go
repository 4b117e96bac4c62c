// Package gateway fronts a hosted conversational assistant with a streaming
// chat API. It resolves threads, streams model output as typed events, fans
// events out over a broker, and keeps an exact per-thread record of token
// usage even when providers report the same tokens more than once.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dealcoach/gateway/assistant"
	"github.com/dealcoach/gateway/broker"
	"github.com/dealcoach/gateway/events"
	"github.com/dealcoach/gateway/ledger"
	"github.com/dealcoach/gateway/pkg/slogx"
	"github.com/dealcoach/gateway/tool"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
)

const defaultAgentName = "deal-coach"

type Gateway struct {
	provider     assistant.Provider
	ledger       *ledger.Ledger
	broker       broker.Broker
	janitor      *ledger.Janitor
	accountant   *Accountant
	instructions string
	agentName    string
	tools        []tool.Definition
}

var (
	// WithProvider sets the assistant backend. Required.
	WithProvider = opts.ForName[Gateway, assistant.Provider]("provider")
	// WithLedger sets the usage ledger. Defaults to a fresh in-memory ledger.
	WithLedger = opts.ForName[Gateway, *ledger.Ledger]("ledger")
	// WithBroker sets the event broker. Defaults to the in-process broker.
	WithBroker = opts.ForName[Gateway, broker.Broker]("broker")
	// WithJanitor sets the janitor sweeping the ledger, so the health
	// endpoint can report the sweep configuration. Defaults to a janitor
	// with the stock max age and interval; the caller still owns Run.
	WithJanitor = opts.ForName[Gateway, *ledger.Janitor]("janitor")
	// WithInstructions sets the system prompt for every chat turn.
	WithInstructions = opts.ForName[Gateway, string]("instructions")
	// WithAgentName sets the agent name announced on thread info events.
	WithAgentName = opts.ForName[Gateway, string]("agentName")
	// WithTools sets the tools the assistant may invoke.
	WithTools = opts.ForName[Gateway, []tool.Definition]("tools")
)

func New(options ...opts.Option[Gateway]) (*Gateway, error) {
	g := &Gateway{}
	if err := opts.Apply(g, options); err != nil {
		return nil, err
	}
	if g.provider == nil {
		return nil, fmt.Errorf("a provider is required")
	}
	if g.ledger == nil {
		g.ledger = ledger.New()
	}
	if g.broker == nil {
		g.broker = broker.Local()
	}
	if g.agentName == "" {
		g.agentName = defaultAgentName
	}
	if g.janitor == nil {
		g.janitor = ledger.NewJanitor(g.ledger)
	}
	g.accountant = NewAccountant(g.ledger)
	return g, nil
}

// Ledger exposes the usage ledger, for stats endpoints and janitor wiring.
func (g *Gateway) Ledger() *ledger.Ledger {
	return g.ledger
}

// Janitor exposes the sweep configuration the gateway reports on health.
func (g *Gateway) Janitor() *ledger.Janitor {
	return g.janitor
}

// Chat runs one chat turn and streams its events. The first event is always
// ThreadInfo with the resolved thread identifier; the last is StreamComplete
// carrying the thread's cumulative usage after this request settled. Every
// event is also published on the broker topic named after the thread.
func (g *Gateway) Chat(ctx context.Context, req *ChatRequest) (<-chan events.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	threadID := g.ledger.ResolveOrCreate(req.ThreadID)
	acct := g.accountant.Begin(threadID)

	stream, err := g.provider.Stream(ctx, assistant.Request{
		ThreadID:               threadID,
		Instructions:           g.instructions,
		AdditionalInstructions: swag.StringValue(req.AdditionalInstructions),
		Message:                req.Message(),
		Tools:                  g.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	out := make(chan events.Event, 10)
	go func() {
		defer close(out)
		g.pump(ctx, threadID, acct, stream, out)
	}()
	return out, nil
}

func (g *Gateway) pump(ctx context.Context, threadID string, acct *RequestUsage, stream <-chan assistant.StreamEvent, out chan<- events.Event) {
	topic := g.broker.Topic(ctx, threadID)
	emit := func(ev events.Event) bool {
		if err := topic.Publish(ctx, ev); err != nil {
			slog.Error("failed to publish event", slogx.Thread(threadID), slogx.Error(err))
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(events.ThreadInfo{ThreadID: threadID, AgentName: g.agentName, Timestamp: now()}) {
		return
	}

	for sev := range stream {
		switch sev := sev.(type) {
		case assistant.Chunk:
			acct.ReportStream(sev.Raw)
			if sev.Content == "" {
				continue
			}
			if !emit(events.Content{ThreadID: threadID, Content: sev.Content, Timestamp: now()}) {
				return
			}
		case assistant.ToolCall:
			if !emit(events.FunctionCall{ThreadID: threadID, Name: sev.Name, Arguments: sev.Arguments, Timestamp: now()}) {
				return
			}
		case assistant.ToolResult:
			if !emit(events.FunctionResult{ThreadID: threadID, Name: sev.Name, Result: sev.Result, Timestamp: now()}) {
				return
			}
		case assistant.Terminal:
			acct.ReportTerminal(sev.Raw)
		case assistant.Failure:
			slog.Error("stream failed", slogx.Thread(threadID), slogx.Error(sev.Err))
			if !emit(events.Error{ThreadID: threadID, Err: sev.Err, Timestamp: now()}) {
				return
			}
		}
	}

	emit(events.StreamComplete{ThreadID: threadID, Usage: acct.End(), Timestamp: now()})
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now())
}
