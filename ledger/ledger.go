// Package ledger owns the per-thread token accounting state: it maps
// conversation thread identifiers to cumulative usage and last-access times,
// and is the only place that state is mutated.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/dealcoach/gateway/pkg/slogx"
	"github.com/dealcoach/gateway/pkg/uuidx"
	"github.com/dealcoach/gateway/usage"
	"github.com/fogfish/opts"
)

// record is the accounting state for one conversation thread. All access
// goes through mu; evicted marks a record that a sweep removed from the map
// while another goroutine still held a pointer to it.
type record struct {
	mu         sync.Mutex
	usage      usage.Usage
	lastAccess time.Time
	evicted    bool
}

// Ledger is the authoritative, in-memory mapping from thread identifier to
// cumulative token usage. It is safe for concurrent use: accumulation for a
// single thread is serialized through a per-record mutex, and a sweep racing
// an accumulate can never silently drop the delta.
type Ledger struct {
	records *haxmap.Map[string, *record]
	clock   func() time.Time
}

// Clock overrides the time source, used by tests to control last-access stamps.
var Clock = opts.ForName[Ledger, func() time.Time]("clock")

// New creates an empty ledger.
func New(options ...opts.Option[Ledger]) *Ledger {
	l := &Ledger{
		records: haxmap.New[string, *record](),
		clock:   time.Now,
	}
	if err := opts.Apply(l, options); err != nil {
		panic(err)
	}
	return l
}

// ResolveOrCreate returns a usable thread identifier. An empty input
// synthesizes a fresh identifier with a zeroed record; a known identifier is
// returned unchanged; an unknown one gets a zeroed record on first sight.
// Either way the thread's last-access time is refreshed.
func (l *Ledger) ResolveOrCreate(threadID string) string {
	if threadID == "" {
		threadID = uuidx.NewThreadID()
		slog.Debug("synthesized new thread id", slogx.Thread(threadID))
	}
	rec := l.acquire(threadID)
	rec.lastAccess = l.clock()
	rec.mu.Unlock()
	return threadID
}

// Accumulate adds delta to the thread's cumulative usage and returns a copy
// of the post-accumulation total. The read-modify-write is atomic per
// thread: concurrent deltas are serialized and the returned snapshot
// reflects exactly the accumulation this call applied.
func (l *Ledger) Accumulate(threadID string, delta usage.Usage) usage.Usage {
	rec := l.acquire(threadID)
	rec.usage.Add(delta)
	rec.lastAccess = l.clock()
	cumulative := rec.usage
	rec.mu.Unlock()
	return cumulative
}

// Reset zeroes the cumulative usage for a thread and refreshes its
// last-access time. Callers use it to start a fresh conversation context
// under a reused identifier.
func (l *Ledger) Reset(threadID string) {
	rec := l.acquire(threadID)
	rec.usage = usage.Usage{}
	rec.lastAccess = l.clock()
	rec.mu.Unlock()
	slog.Debug("reset thread usage", slogx.Thread(threadID))
}

// Snapshot returns a copy of the thread's cumulative usage. Unknown threads
// yield a zero value; Snapshot never fails and never creates a record.
func (l *Ledger) Snapshot(threadID string) usage.Usage {
	rec, ok := l.records.Get(threadID)
	if !ok {
		return usage.Usage{}
	}
	rec.mu.Lock()
	snapshot := rec.usage
	rec.mu.Unlock()
	return snapshot
}

// Sweep removes every record that has not been touched within maxAge of now
// and returns the number of records removed. Eviction takes the same
// per-record lock as accumulation: a concurrent accumulate either lands
// before the eviction or recreates the record afterwards, it is never lost.
func (l *Ledger) Sweep(maxAge time.Duration, now time.Time) int {
	var removed int
	l.records.ForEach(func(threadID string, rec *record) bool {
		rec.mu.Lock()
		if !rec.evicted && now.Sub(rec.lastAccess) > maxAge {
			rec.evicted = true
			l.records.Del(threadID)
			removed++
			slog.Debug("evicted stale thread", slogx.Thread(threadID), slogx.Stringer("usage", rec.usage))
		}
		rec.mu.Unlock()
		return true
	})
	return removed
}

// Stats is a read-only aggregate over all tracked threads.
type Stats struct {
	ThreadCount int                    `json:"thread_count"`
	TotalTokens int64                  `json:"total_tokens"`
	Threads     map[string]usage.Usage `json:"threads"`
}

// Stats returns a point-in-time aggregate for monitoring. The per-thread
// snapshots are copies; mutating them has no effect on the ledger.
func (l *Ledger) Stats() Stats {
	stats := Stats{Threads: make(map[string]usage.Usage, int(l.records.Len()))}
	l.records.ForEach(func(threadID string, rec *record) bool {
		rec.mu.Lock()
		snapshot := rec.usage
		evicted := rec.evicted
		rec.mu.Unlock()
		if evicted {
			return true
		}
		stats.Threads[threadID] = snapshot
		stats.ThreadCount++
		stats.TotalTokens += snapshot.TotalTokens
		return true
	})
	return stats
}

// Len returns the number of threads currently tracked.
func (l *Ledger) Len() int {
	return int(l.records.Len())
}

// acquire returns the locked record for threadID, creating it if absent. A
// record observed mid-eviction is abandoned and recreated so the caller's
// mutation is applied to a live record.
func (l *Ledger) acquire(threadID string) *record {
	for {
		rec, _ := l.records.GetOrCompute(threadID, func() *record {
			return &record{lastAccess: l.clock()}
		})
		rec.mu.Lock()
		if !rec.evicted {
			return rec
		}
		rec.mu.Unlock()
	}
}
