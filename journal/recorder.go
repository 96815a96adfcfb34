package journal

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/tradereplay/events"
	"github.com/rustyeddy/tradereplay/sim"
)

// Recorder subscribes to an engine's events and writes each closed
// trade to a journal. It also samples equity on demand.
//
// Trade ids restart at 1 when the engine is reset, and the journal keys
// trades by (run id, trade id). Call SetRunID with a fresh id whenever
// the engine behind a recorder is reset.
type Recorder struct {
	j          Journal
	instrument string
	every      int
	log        log.FieldLogger

	mu      sync.Mutex
	runID   string
	samples int
	err     error
}

type RecorderOption func(*Recorder)

// WithEquityEvery keeps one equity sample in n.
func WithEquityEvery(n int) RecorderOption {
	return func(r *Recorder) { r.every = max(n, 1) }
}

func WithRecorderLogger(l log.FieldLogger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

func NewRecorder(j Journal, runID, instrument string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		j:          j,
		runID:      runID,
		instrument: instrument,
		every:      1,
		log:        log.WithField("component", "journal"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify implements events.Subscriber.
func (r *Recorder) Notify(e events.Event) error {
	if e.Kind != events.TradeClosed {
		return nil
	}
	rec := NewTradeRecord(r.RunID(), r.instrument, e.Trade)
	return r.keep(r.j.RecordTrade(rec))
}

func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// SetRunID starts writing under a new run id. The equity sampling
// restarts with it.
func (r *Recorder) SetRunID(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.samples = 0
}

// RecordAccount writes an equity sample for acct at time at, subject to
// WithEquityEvery. The first sample is always written.
func (r *Recorder) RecordAccount(at time.Time, acct sim.Account) error {
	r.mu.Lock()
	n := r.samples
	r.samples++
	runID := r.runID
	r.mu.Unlock()
	if n%r.every != 0 {
		return nil
	}

	return r.keep(r.j.RecordEquity(EquitySnapshot{
		RunID:      runID,
		Time:       at,
		Balance:    acct.Balance,
		Equity:     acct.Equity,
		MarginUsed: acct.MarginUsed,
		OpenTrades: acct.OpenTrades,
	}))
}

func (r *Recorder) keep(err error) error {
	if err == nil {
		return nil
	}
	r.log.WithField("run", r.RunID()).WithError(err).Error("journal write failed")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	return err
}

// Err is the first write error seen, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
