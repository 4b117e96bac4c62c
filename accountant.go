package gateway

import (
	"log/slog"
	"sync/atomic"

	"github.com/dealcoach/gateway/ledger"
	"github.com/dealcoach/gateway/pkg/slogx"
	"github.com/dealcoach/gateway/usage"
)

// Accountant records token usage per request. Providers report usage twice
// for the same tokens, once on the final stream chunk and once on the
// terminal response; the accountant keeps the stream report authoritative
// and drops the terminal one when the stream already counted.
type Accountant struct {
	ledger *ledger.Ledger
}

func NewAccountant(l *ledger.Ledger) *Accountant {
	return &Accountant{ledger: l}
}

// Begin opens the accounting scope for one request against a thread.
func (a *Accountant) Begin(threadID string) *RequestUsage {
	return &RequestUsage{ledger: a.ledger, threadID: threadID}
}

// RequestUsage tracks whether a request's tokens have been counted yet.
// Methods are safe for concurrent use.
type RequestUsage struct {
	ledger   *ledger.Ledger
	threadID string
	counted  atomic.Bool
}

// ReportStream extracts usage from a stream chunk payload and records it.
// Extracting a non-zero triple marks the request as counted; a zeroed usage
// object is treated as no report, so a later terminal figure still lands.
func (r *RequestUsage) ReportStream(source any) {
	u, tier := usage.Extract(source)
	if tier == usage.TierNone || u.IsZero() {
		return
	}
	if r.counted.Swap(true) {
		slog.Debug("additional stream usage recorded", slogx.Thread(r.threadID), slog.String("usage", u.String()))
	}
	r.ledger.Accumulate(r.threadID, u)
	slog.Debug("recorded usage from stream", slogx.Thread(r.threadID), slogx.Stringer("tier", tier), slog.String("usage", u.String()))
}

// ReportTerminal extracts usage from the terminal response payload. It only
// records when no stream chunk counted this request; otherwise the terminal
// usage duplicates what the stream already reported and is logged only.
func (r *RequestUsage) ReportTerminal(source any) {
	if r.counted.Load() {
		slog.Debug("usage already recorded from stream, skipping terminal usage", slogx.Thread(r.threadID))
		return
	}

	u, tier := usage.Extract(source)
	if tier == usage.TierNone || u.IsZero() {
		slog.Debug("no usage found on terminal response", slogx.Thread(r.threadID))
		return
	}
	r.counted.Store(true)
	r.ledger.Accumulate(r.threadID, u)
	slog.Debug("recorded usage from terminal response", slogx.Thread(r.threadID), slogx.Stringer("tier", tier), slog.String("usage", u.String()))
}

// Counted reports whether this request has recorded usage.
func (r *RequestUsage) Counted() bool {
	return r.counted.Load()
}

// End closes the accounting scope and returns the thread's cumulative usage.
func (r *RequestUsage) End() usage.Usage {
	return r.ledger.Snapshot(r.threadID)
}
