package gateway

import (
	"sync"
	"testing"

	"github.com/dealcoach/gateway/ledger"
	"github.com/dealcoach/gateway/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// chunkPayload mimics a provider stream chunk: usage only present on the
// final chunk of a round.
type chunkPayload struct {
	ID      string      `json:"id"`
	Content string      `json:"content,omitempty"`
	Usage   *tokenUsage `json:"usage,omitempty"`
}

func (u tokenUsage) toUsage() usage.Usage {
	return usage.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func withUsage(in, out, total int64) chunkPayload {
	return chunkPayload{ID: "chunk", Usage: &tokenUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: total}}
}

func TestReportTerminalSkippedWhenStreamCounted(t *testing.T) {
	l := ledger.New()
	acct := NewAccountant(l)

	req := acct.Begin("thread_1")
	require.False(t, req.Counted())

	req.ReportStream(chunkPayload{ID: "c1", Content: "hello"})
	assert.False(t, req.Counted())

	req.ReportStream(withUsage(150, 300, 450))
	assert.True(t, req.Counted())

	req.ReportTerminal(withUsage(150, 300, 450))

	assert.Equal(t, usage.Usage{InputTokens: 150, OutputTokens: 300, TotalTokens: 450}, req.End())
}

func TestReportTerminalFallbackWhenStreamHadNoUsage(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	req.ReportStream(chunkPayload{ID: "c1", Content: "hello"})
	req.ReportStream(chunkPayload{ID: "c2", Content: "world"})
	require.False(t, req.Counted())

	req.ReportTerminal(withUsage(80, 0, 80))
	assert.True(t, req.Counted())

	assert.Equal(t, usage.Usage{InputTokens: 80, OutputTokens: 0, TotalTokens: 80}, req.End())
}

func TestZeroedStreamUsageDoesNotBlockTerminal(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	req.ReportStream(withUsage(0, 0, 0))
	require.False(t, req.Counted())

	req.ReportTerminal(withUsage(150, 300, 450))
	assert.True(t, req.Counted())

	assert.Equal(t, usage.Usage{InputTokens: 150, OutputTokens: 300, TotalTokens: 450}, req.End())
}

func TestZeroedTerminalUsageLeavesRequestUncounted(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	req.ReportTerminal(withUsage(0, 0, 0))

	assert.False(t, req.Counted())
	assert.True(t, req.End().IsZero())
}

func TestReportStreamAccumulatesAcrossRounds(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	req.ReportStream(withUsage(100, 50, 150))
	req.ReportStream(withUsage(25, 25, 50))
	req.ReportTerminal(withUsage(25, 25, 50))

	assert.Equal(t, usage.Usage{InputTokens: 125, OutputTokens: 75, TotalTokens: 200}, req.End())
}

func TestReportTerminalNoUsageAnywhere(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	req.ReportStream(chunkPayload{ID: "c1"})
	req.ReportTerminal(chunkPayload{ID: "done"})

	assert.False(t, req.Counted())
	assert.True(t, req.End().IsZero())
}

func TestRequestsShareThreadTotals(t *testing.T) {
	l := ledger.New()
	acct := NewAccountant(l)

	first := acct.Begin("thread_1")
	first.ReportStream(withUsage(100, 50, 150))

	second := acct.Begin("thread_1")
	require.False(t, second.Counted())
	second.ReportStream(withUsage(10, 20, 30))

	assert.Equal(t, usage.Usage{InputTokens: 110, OutputTokens: 70, TotalTokens: 180}, second.End())
}

func TestReportStreamConcurrent(t *testing.T) {
	l := ledger.New()
	req := NewAccountant(l).Begin("thread_1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				req.ReportStream(withUsage(1, 2, 3))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, usage.Usage{InputTokens: 800, OutputTokens: 1600, TotalTokens: 2400}, req.End())
}
