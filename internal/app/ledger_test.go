package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = writeBackoff{attempts: 3, delay: time.Millisecond, maxDelay: 4 * time.Millisecond}

type flakyLedger struct {
	mu          sync.Mutex
	failures    int
	calls       int
	settlements []domain.Settlement
	outcomes    []domain.ProposalOutcome
	started     chan struct{}
	release     chan struct{}
}

func (l *flakyLedger) attempt() error {
	if l.started != nil {
		l.started <- struct{}{}
		<-l.release
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failures > 0 {
		l.failures--
		return errors.New("connection reset")
	}
	return nil
}

func (l *flakyLedger) RecordSettlement(_ context.Context, s domain.Settlement) error {
	if err := l.attempt(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settlements = append(l.settlements, s)
	return nil
}

func (l *flakyLedger) RecordProposalOutcome(_ context.Context, o domain.ProposalOutcome) error {
	if err := l.attempt(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
	return nil
}

func (l *flakyLedger) stats() (calls, settlements, outcomes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, len(l.settlements), len(l.outcomes)
}

func TestLedgerWriter_RetriesTransientFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	bm := metrics.NewBettingMetrics(reg)
	vm := metrics.NewVoteMetrics(reg)
	ledger := &flakyLedger{failures: 2}
	w := newLedgerWriter(ledger, 8, fastPolicy, bm, vm)

	w.RecordSettlement(domain.Settlement{PoolID: "p1", Status: domain.PoolResolved})
	w.RecordProposalOutcome(domain.ProposalOutcome{ProposalID: "x1", Status: domain.ProposalSuccess})
	require.NoError(t, w.Close(context.Background()))

	calls, settlements, outcomes := ledger.stats()
	assert.Equal(t, 4, calls)
	assert.Equal(t, 1, settlements)
	assert.Equal(t, 1, outcomes)
	assert.InDelta(t, 1, testutil.ToFloat64(bm.SettlementsWritten.WithLabelValues("settlement", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(bm.SettlementsWritten.WithLabelValues("proposal", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(bm.Terminations.WithLabelValues("resolved")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(vm.Resolutions.WithLabelValues("success")), 0)
}

func TestLedgerWriter_GivesUpAfterMaxAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	bm := metrics.NewBettingMetrics(reg)
	ledger := &flakyLedger{failures: 10}
	w := newLedgerWriter(ledger, 8, fastPolicy, bm, nil)

	w.RecordSettlement(domain.Settlement{PoolID: "p1", Status: domain.PoolExpired})
	require.NoError(t, w.Close(context.Background()))

	calls, settlements, _ := ledger.stats()
	assert.Equal(t, 3, calls)
	assert.Zero(t, settlements)
	assert.InDelta(t, 1, testutil.ToFloat64(bm.SettlementsWritten.WithLabelValues("settlement", "error")), 0)
}

func TestLedgerWriter_DropsWhenQueueFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	bm := metrics.NewBettingMetrics(reg)
	ledger := &flakyLedger{started: make(chan struct{}), release: make(chan struct{})}
	w := newLedgerWriter(ledger, 1, fastPolicy, bm, nil)

	w.RecordSettlement(domain.Settlement{PoolID: "p1"})
	<-ledger.started
	w.RecordSettlement(domain.Settlement{PoolID: "p2"})
	w.RecordSettlement(domain.Settlement{PoolID: "p3"})

	assert.InDelta(t, 1, testutil.ToFloat64(bm.SettlementsWritten.WithLabelValues("settlement", "dropped")), 0)

	close(ledger.release)
	go func() {
		for range ledger.started {
		}
	}()
	require.NoError(t, w.Close(context.Background()))

	_, settlements, _ := ledger.stats()
	assert.Equal(t, 2, settlements)
	close(ledger.started)
}

func TestLedgerWriter_DropsAfterClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	bm := metrics.NewBettingMetrics(reg)
	ledger := &flakyLedger{}
	w := newLedgerWriter(ledger, 4, fastPolicy, bm, nil)
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()), "close is idempotent")

	w.RecordSettlement(domain.Settlement{PoolID: "late"})

	calls, _, _ := ledger.stats()
	assert.Zero(t, calls)
	assert.InDelta(t, 1, testutil.ToFloat64(bm.SettlementsWritten.WithLabelValues("settlement", "dropped")), 0)
}

func TestLedgerWriter_CloseAbandonsRetriesOnTimeout(t *testing.T) {
	ledger := &flakyLedger{failures: 1000}
	w := newLedgerWriter(ledger, 4, writeBackoff{attempts: 100, delay: time.Hour, maxDelay: time.Hour}, nil, nil)
	w.RecordSettlement(domain.Settlement{PoolID: "p1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Close(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLedger_EvictsOldestSettlement(t *testing.T) {
	l := NewMemoryLedger(2)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, l.RecordSettlement(ctx, domain.Settlement{PoolID: id, TotalPot: 10}))
	}

	_, err := l.GetSettlement(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrSettlementNotFound)

	s, err := l.GetSettlement(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.TotalPot)
}

func TestMemoryLedger_FirstSettlementWins(t *testing.T) {
	l := NewMemoryLedger(4)
	ctx := context.Background()
	require.NoError(t, l.RecordSettlement(ctx, domain.Settlement{PoolID: "p1", WinningOption: "a"}))
	require.NoError(t, l.RecordSettlement(ctx, domain.Settlement{PoolID: "p1", WinningOption: "b"}))

	s, err := l.GetSettlement(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "a", s.WinningOption)
	require.NoError(t, l.RecordProposalOutcome(ctx, domain.ProposalOutcome{ProposalID: "x"}))
}
