// Command dealcoachd serves the deal coaching gateway: a streaming chat API
// in front of a hosted assistant, with per-thread token accounting and an
// optional NATS fanout for stream events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Ensure API Key is loaded
	_ "github.com/joho/godotenv/autoload"

	"github.com/dealcoach/gateway"
	"github.com/dealcoach/gateway/assistant/openai"
	"github.com/dealcoach/gateway/broker"
	"github.com/dealcoach/gateway/ledger"
	"github.com/dealcoach/gateway/pkg/slogx"
	"github.com/dealcoach/gateway/tool"
	"github.com/fogfish/opts"
	"github.com/nats-io/nats.go"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

const instructions = `You are Deal Coach, a seasoned B2B sales strategist who helps sellers win
their pursuits. Answer with concrete, actionable coaching grounded in the
documents you retrieve.

The user message may end with a Context block listing AccountName (the target
customer), ClientName (the seller's own company), and Demand Stage. Use them
to scope your retrieval:
- get_sales_docs for methodology, playbooks, and generic sales tactics
- get_customer_docs for anything specific to the target account
- get_user_docs for the seller's own company resources

Cite what the retrieved documents say rather than inventing details. When a
lookup comes back empty, say so and coach from general best practice.`

func main() {
	if err := mainE(context.Background()); err != nil {
		slog.Error("gateway exited", slogx.Error(err))
		os.Exit(1)
	}
}

func mainE(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ldgr := ledger.New()

	evtBroker, err := buildBroker()
	if err != nil {
		return err
	}

	janitor, err := buildJanitor(ldgr)
	if err != nil {
		return err
	}

	g, err := gateway.New(
		gateway.WithProvider(openai.New(os.Getenv("OPENAI_MODEL"))),
		gateway.WithLedger(ldgr),
		gateway.WithBroker(evtBroker),
		gateway.WithJanitor(janitor),
		gateway.WithInstructions(instructions),
		gateway.WithTools([]tool.Definition{
			tool.GetSalesDocs(stubRetriever("sales")),
			tool.GetCustomerDocs(stubAccountRetriever("customer")),
			tool.GetUserDocs(stubAccountRetriever("user")),
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	go janitor.Run(ctx)

	addr := ":" + envOr("PORT", "8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildJanitor reads the sweep knobs from MAX_THREAD_AGE and SWEEP_INTERVAL,
// both Go duration strings, falling back to the stock 24h/1h.
func buildJanitor(l *ledger.Ledger) (*ledger.Janitor, error) {
	var options []opts.Option[ledger.Janitor]
	if v := os.Getenv("MAX_THREAD_AGE"); v != "" {
		age, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_THREAD_AGE %q: %w", v, err)
		}
		options = append(options, ledger.MaxAge(age))
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", v, err)
		}
		options = append(options, ledger.SweepInterval(interval))
	}
	return ledger.NewJanitor(l, options...), nil
}

func buildBroker() (broker.Broker, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		return broker.Local(), nil
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	slog.Info("publishing stream events to nats", slog.String("url", natsURL))
	return broker.NATS(nc), nil
}

// stubRetriever stands in until the document search backends are wired up.
func stubRetriever(corpus string) tool.Retriever {
	return func(_ context.Context, query string) (string, error) {
		return fmt.Sprintf("no %s documents indexed yet for %q", corpus, query), nil
	}
}

func stubAccountRetriever(corpus string) tool.AccountRetriever {
	return func(_ context.Context, query, account string) (string, error) {
		if account != "" {
			return fmt.Sprintf("no %s documents indexed yet for %q (%s)", corpus, query, account), nil
		}
		return fmt.Sprintf("no %s documents indexed yet for %q", corpus, query), nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
