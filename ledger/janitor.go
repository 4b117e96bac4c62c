package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/fogfish/opts"
)

const (
	// DefaultMaxThreadAge is how long a thread may go untouched before a
	// sweep evicts it.
	DefaultMaxThreadAge = 24 * time.Hour
	// DefaultSweepInterval is how often the janitor checks for stale threads.
	DefaultSweepInterval = time.Hour
)

// Janitor periodically sweeps a ledger, evicting threads older than the
// configured maximum age. It runs independently of request traffic so its
// cadence and failure isolation can be exercised on their own.
type Janitor struct {
	ledger   *Ledger
	maxAge   time.Duration
	interval time.Duration
	clock    func() time.Time
}

var (
	// MaxAge sets the last-access age beyond which a thread is evicted.
	MaxAge = opts.ForName[Janitor, time.Duration]("maxAge")
	// SweepInterval sets how often the janitor runs a sweep cycle.
	SweepInterval = opts.ForName[Janitor, time.Duration]("interval")
	// JanitorClock overrides the janitor's time source for tests.
	JanitorClock = opts.ForName[Janitor, func() time.Time]("clock")
)

// NewJanitor configures a janitor for the given ledger.
func NewJanitor(l *Ledger, options ...opts.Option[Janitor]) *Janitor {
	j := &Janitor{
		ledger:   l,
		maxAge:   DefaultMaxThreadAge,
		interval: DefaultSweepInterval,
		clock:    time.Now,
	}
	if err := opts.Apply(j, options); err != nil {
		panic(err)
	}
	return j
}

// MaxThreadAge returns the configured eviction age.
func (j *Janitor) MaxThreadAge() time.Duration { return j.maxAge }

// Interval returns the configured sweep cadence.
func (j *Janitor) Interval() time.Duration { return j.interval }

// Run sweeps on the configured interval until ctx is cancelled. A failure in
// one cycle is logged and does not terminate future cycles.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("janitor started",
		slog.Duration("interval", j.interval),
		slog.Duration("max_age", j.maxAge),
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return
		case <-ticker.C:
			j.sweepOnce()
		}
	}
}

// sweepOnce runs a single sweep cycle, isolating panics so one bad cycle
// cannot kill the loop.
func (j *Janitor) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sweep cycle failed", slog.Any("panic", r))
		}
	}()

	removed := j.ledger.Sweep(j.maxAge, j.clock())
	if removed > 0 {
		slog.Info("swept stale threads", slog.Int("removed", removed))
	}
}
