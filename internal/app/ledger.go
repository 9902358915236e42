package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
)

// writeBackoff bounds how hard the writer leans on a struggling ledger.
type writeBackoff struct {
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

var defaultWriteBackoff = writeBackoff{attempts: 5, delay: 200 * time.Millisecond, maxDelay: 5 * time.Second}

type outcome struct {
	settlement *domain.Settlement
	proposal   *domain.ProposalOutcome
}

// LedgerWriter moves terminal outcomes from the managers to the durable
// ledger. Managers hand outcomes over while holding entity locks, so the
// hand-off never blocks: a full queue drops the write and logs it.
type LedgerWriter struct {
	ledger   domain.Ledger
	backoff  writeBackoff
	bettingM *metrics.BettingMetrics
	voteM    *metrics.VoteMetrics
	queue    chan outcome
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewLedgerWriter starts the background writer. Metrics may be nil.
func NewLedgerWriter(ledger domain.Ledger, queueSize int, bettingM *metrics.BettingMetrics, voteM *metrics.VoteMetrics) *LedgerWriter {
	return newLedgerWriter(ledger, queueSize, defaultWriteBackoff, bettingM, voteM)
}

func newLedgerWriter(ledger domain.Ledger, queueSize int, backoff writeBackoff, bettingM *metrics.BettingMetrics, voteM *metrics.VoteMetrics) *LedgerWriter {
	ctx, cancel := context.WithCancel(context.Background())
	w := &LedgerWriter{
		ledger:   ledger,
		backoff:  backoff,
		bettingM: bettingM,
		voteM:    voteM,
		queue:    make(chan outcome, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	w.wg.Go(w.run)
	return w
}

// RecordSettlement is the betting manager's onSettled hook.
func (w *LedgerWriter) RecordSettlement(s domain.Settlement) {
	if w.bettingM != nil {
		w.bettingM.Terminations.WithLabelValues(string(s.Status)).Inc()
	}
	w.enqueue(outcome{settlement: &s}, "settlement", s.PoolID)
}

// RecordProposalOutcome is the collective manager's onResolved hook.
func (w *LedgerWriter) RecordProposalOutcome(o domain.ProposalOutcome) {
	if w.voteM != nil {
		w.voteM.Resolutions.WithLabelValues(string(o.Status)).Inc()
	}
	w.enqueue(outcome{proposal: &o}, "proposal", o.ProposalID)
}

func (w *LedgerWriter) enqueue(o outcome, kind, id string) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		slog.Error("Ledger writer closed, outcome dropped", "kind", kind, "id", id)
		w.countWrite(kind, "dropped")
		return
	}
	select {
	case w.queue <- o:
		w.setDepth()
	default:
		slog.Error("Ledger queue full, outcome dropped", "kind", kind, "id", id)
		w.countWrite(kind, "dropped")
	}
}

// Close stops accepting outcomes and waits for queued ones to be written.
// When ctx ends first, pending retries are abandoned.
func (w *LedgerWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

func (w *LedgerWriter) run() {
	for o := range w.queue {
		w.setDepth()
		ctx := correlation.WithID(w.ctx, correlation.NewID())
		switch {
		case o.settlement != nil:
			w.write(ctx, "settlement", o.settlement.PoolID, func(ctx context.Context) error {
				return w.ledger.RecordSettlement(ctx, *o.settlement)
			})
		case o.proposal != nil:
			w.write(ctx, "proposal", o.proposal.ProposalID, func(ctx context.Context) error {
				return w.ledger.RecordProposalOutcome(ctx, *o.proposal)
			})
		}
	}
}

// write retries op with exponential backoff. Cancellation aborts at once:
// it only happens when Close gave up waiting.
func (w *LedgerWriter) write(ctx context.Context, kind, id string, op func(context.Context) error) {
	policy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(w.backoff.attempts).
		WithBackoff(w.backoff.delay, w.backoff.maxDelay).
		AbortOnErrors(context.Canceled, context.DeadlineExceeded).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			slog.WarnContext(ctx, "Ledger write failed, retrying", "kind", kind, "id", id, "attempt", e.Attempts(), "error", e.LastError())
		}).
		Build()

	err := failsafe.With[any](policy).WithContext(ctx).Run(func() error { return op(ctx) })
	if err != nil {
		slog.ErrorContext(ctx, "Ledger write abandoned", "kind", kind, "id", id, "error", err)
		w.countWrite(kind, "error")
		return
	}
	w.countWrite(kind, "ok")
}

func (w *LedgerWriter) countWrite(kind, result string) {
	if w.bettingM != nil {
		w.bettingM.SettlementsWritten.WithLabelValues(kind, result).Inc()
	}
}

func (w *LedgerWriter) setDepth() {
	if w.bettingM != nil {
		w.bettingM.SettlementsQueued.Set(float64(len(w.queue)))
	}
}

// MemoryLedger keeps the most recent outcomes in memory and logs each one.
// It serves deployments without a database.
type MemoryLedger struct {
	capacity int

	mu          sync.RWMutex
	settlements map[string]domain.Settlement
	order       []string
}

func NewMemoryLedger(capacity int) *MemoryLedger {
	return &MemoryLedger{capacity: capacity, settlements: make(map[string]domain.Settlement)}
}

func (l *MemoryLedger) RecordSettlement(ctx context.Context, s domain.Settlement) error {
	l.mu.Lock()
	if _, exists := l.settlements[s.PoolID]; !exists {
		l.order = append(l.order, s.PoolID)
		if len(l.order) > l.capacity {
			delete(l.settlements, l.order[0])
			l.order = l.order[1:]
		}
		l.settlements[s.PoolID] = s
	}
	l.mu.Unlock()

	slog.InfoContext(ctx, "Pool settled", "pool_id", s.PoolID, "status", s.Status, "winning_option", s.WinningOption,
		"void", s.Void, "total_pot", s.TotalPot, "paid_out", s.PaidOut(), "payouts", len(s.Payouts))
	return nil
}

func (l *MemoryLedger) RecordProposalOutcome(ctx context.Context, o domain.ProposalOutcome) error {
	slog.InfoContext(ctx, "Proposal resolved", "proposal_id", o.ProposalID, "action", o.Action, "status", o.Status,
		"yes", o.YesVotes, "no", o.NoVotes, "early", o.Early)
	return nil
}

func (l *MemoryLedger) GetSettlement(_ context.Context, poolID string) (*domain.Settlement, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.settlements[poolID]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return &s, nil
}
