package betting

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *recordingPublisher) last() domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type settlementRecorder struct {
	mu          sync.Mutex
	settlements []domain.Settlement
}

func (r *settlementRecorder) record(s domain.Settlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements = append(r.settlements, s)
}

func (r *settlementRecorder) all() []domain.Settlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Settlement(nil), r.settlements...)
}

var t0 = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	manager *Manager
	pub     *recordingPublisher
	settled *settlementRecorder
}

func newFixture(cfg Config) *fixture {
	f := &fixture{pub: &recordingPublisher{}, settled: &settlementRecorder{}}
	f.manager = NewManager(cfg, f.pub, f.settled.record)
	return f
}

func (f *fixture) createPool(t *testing.T, options ...string) domain.Pool {
	t.Helper()
	if len(options) == 0 {
		options = []string{"A", "B"}
	}
	p, err := f.manager.CreatePool(CreatePoolRequest{
		Owner:    "owner",
		Room:     "north-stand",
		Question: "Who scores first?",
		Options:  options,
		EndTime:  t0.Add(60 * time.Second),
	}, t0)
	require.NoError(t, err)
	return p
}

func TestCreatePool(t *testing.T) {
	f := newFixture(Config{})

	p := f.createPool(t)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.PoolActive, p.Status)
	assert.Zero(t, p.TotalPot)
	assert.Equal(t, t0, p.StartTime)
	assert.Equal(t, []domain.EventKind{domain.EventPoolCreated}, f.pub.kinds())
	assert.Equal(t, "north-stand", f.pub.last().Room)
}

func TestCreatePool_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreatePoolRequest
	}{
		{"one option", CreatePoolRequest{Owner: "o", Question: "q", Options: []string{"A"}, EndTime: t0.Add(time.Minute)}},
		{"duplicate options", CreatePoolRequest{Owner: "o", Question: "q", Options: []string{"A", "A"}, EndTime: t0.Add(time.Minute)}},
		{"blank option", CreatePoolRequest{Owner: "o", Question: "q", Options: []string{"A", " "}, EndTime: t0.Add(time.Minute)}},
		{"end time now", CreatePoolRequest{Owner: "o", Question: "q", Options: []string{"A", "B"}, EndTime: t0}},
		{"end time past", CreatePoolRequest{Owner: "o", Question: "q", Options: []string{"A", "B"}, EndTime: t0.Add(-time.Second)}},
		{"empty question", CreatePoolRequest{Owner: "o", Question: "", Options: []string{"A", "B"}, EndTime: t0.Add(time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			_, err := f.manager.CreatePool(tt.req, t0)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Empty(t, f.manager.List(""))
		})
	}
}

func TestPlaceStake_UpdatesTotals(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0.Add(time.Second))
	require.NoError(t, err)
	update, err := f.manager.PlaceStake(p.ID, "u2", "B", 30, t0.Add(2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, int64(40), update.TotalPot)
	assert.Equal(t, 2, update.StakeCount)
	assert.InDelta(t, 0.25, update.Totals[0].Share, 1e-9)
	assert.InDelta(t, 0.75, update.Totals[1].Share, 1e-9)

	last := f.pub.last()
	assert.Equal(t, domain.EventPoolUpdated, last.Kind)
	assert.Equal(t, uint64(3), last.Version)
	_, isTotals := last.Payload.(domain.PoolTotals)
	assert.True(t, isTotals)
}

func TestPlaceStake_Rejections(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	_, err := f.manager.PlaceStake(p.ID, "u1", "C", 10, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = f.manager.PlaceStake(p.ID, "u1", "A", 0, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.manager.PlaceStake(p.ID, "u1", "A", -5, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.manager.PlaceStake(p.ID, "", "A", 5, t0)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = f.manager.PlaceStake("missing", "u1", "A", 5, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.manager.Get(p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalPot)
}

func TestPlaceStake_AfterEndTimeIsClosed(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0)
	require.NoError(t, err)

	_, err = f.manager.PlaceStake(p.ID, "u2", "A", 10, p.EndTime)

	require.ErrorIs(t, err, domain.ErrPoolClosed)
	assert.ErrorIs(t, err, domain.ErrConflict)
	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, int64(10), got.TotalPot)
}

func TestPlaceStake_AfterResolutionIsClosed(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0)
	require.NoError(t, err)
	_, err = f.manager.ClosePool(p.ID, "owner", "A", t0.Add(time.Second))
	require.NoError(t, err)

	_, err = f.manager.PlaceStake(p.ID, "u2", "B", 10, t0.Add(2*time.Second))

	assert.ErrorIs(t, err, domain.ErrPoolClosed)
	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, int64(10), got.TotalPot)
}

func TestResolveScenario(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "user1", "A", 10, t0.Add(time.Second))
	require.NoError(t, err)
	_, err = f.manager.PlaceStake(p.ID, "user2", "B", 30, t0.Add(2*time.Second))
	require.NoError(t, err)

	outcome, err := f.manager.ResolvePool(p.ID, "A", p.EndTime)
	require.NoError(t, err)

	assert.Equal(t, domain.PoolResolved, outcome.Status)
	assert.Equal(t, int64(40), outcome.TotalPot)
	assert.Equal(t, int64(10), outcome.WinningTotal)
	assert.InDelta(t, 4.0, outcome.PayoutRatio, 1e-9)
	assert.False(t, outcome.Void)

	settlements := f.settled.all()
	require.Len(t, settlements, 1)
	s := settlements[0]
	assert.Equal(t, "user1", s.Payouts[0].UserID)
	assert.Equal(t, int64(40), s.Payouts[0].Amount)
	assert.Equal(t, int64(0), s.Payouts[1].Amount)
	assert.Equal(t, s.TotalPot, s.PaidOut())

	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, "A", got.WinningOption)
	assert.Equal(t, domain.EventPoolResolved, f.pub.last().Kind)
}

func TestResolvePool_BeforeEndTime(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	_, err := f.manager.ResolvePool(p.ID, "A", t0.Add(time.Second))

	assert.ErrorIs(t, err, domain.ErrPoolNotEnded)
}

func TestResolvePool_UnknownOption(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	_, err := f.manager.ResolvePool(p.ID, "Z", p.EndTime)

	assert.ErrorIs(t, err, domain.ErrInvalidOption)
	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, domain.PoolActive, got.Status)
}

func TestResolvePool_TwiceConflicts(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.ResolvePool(p.ID, "A", p.EndTime)
	require.NoError(t, err)

	_, err = f.manager.ResolvePool(p.ID, "B", p.EndTime)

	assert.ErrorIs(t, err, domain.ErrPoolClosed)
	assert.Len(t, f.settled.all(), 1)
}

func TestResolvePool_NobodyOnWinnerIsVoid(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t, "A", "B", "C")
	_, err := f.manager.PlaceStake(p.ID, "u1", "B", 25, t0)
	require.NoError(t, err)

	outcome, err := f.manager.ResolvePool(p.ID, "C", p.EndTime)
	require.NoError(t, err)

	assert.True(t, outcome.Void)
	s := f.settled.all()[0]
	assert.Equal(t, int64(25), s.Payouts[0].Amount)
}

func TestClosePool_OnlyOwner(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	_, err := f.manager.ClosePool(p.ID, "intruder", "A", t0)

	assert.ErrorIs(t, err, domain.ErrForbidden)
	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, domain.PoolActive, got.Status)
}

func TestClosePool_WithoutWinner(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0)
	require.NoError(t, err)

	_, err = f.manager.ClosePool(p.ID, "owner", "", t0.Add(time.Second))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	outcome, err := f.manager.ClosePool(p.ID, "owner", "", p.EndTime)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolExpired, outcome.Status)
	assert.True(t, outcome.Void)
	assert.Equal(t, int64(10), f.settled.all()[0].Payouts[0].Amount)
	assert.Equal(t, domain.EventPoolExpired, f.pub.last().Kind)
}

func TestSweep_ExpiresOverduePoolsWithRefunds(t *testing.T) {
	f := newFixture(Config{Retention: time.Hour})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0)
	require.NoError(t, err)
	_, err = f.manager.PlaceStake(p.ID, "u2", "B", 15, t0)
	require.NoError(t, err)

	assert.Zero(t, f.manager.Sweep(p.EndTime.Add(-time.Millisecond)))
	assert.Equal(t, 1, f.manager.Sweep(p.EndTime))
	assert.Zero(t, f.manager.Sweep(p.EndTime.Add(time.Second)))

	got, _ := f.manager.Get(p.ID)
	assert.Equal(t, domain.PoolExpired, got.Status)
	assert.Empty(t, got.WinningOption)

	s := f.settled.all()
	require.Len(t, s, 1)
	assert.True(t, s[0].Void)
	assert.Equal(t, int64(25), s[0].PaidOut())
}

func TestSweep_GraceAllowsLateResolution(t *testing.T) {
	f := newFixture(Config{ResolutionGrace: 30 * time.Second})
	p := f.createPool(t)

	assert.Zero(t, f.manager.Sweep(p.EndTime.Add(10*time.Second)))
	_, err := f.manager.ResolvePool(p.ID, "A", p.EndTime.Add(10*time.Second))
	require.NoError(t, err)
	assert.Zero(t, f.manager.Sweep(p.EndTime.Add(time.Minute)))
}

func TestSweep_PrunesAfterRetention(t *testing.T) {
	f := newFixture(Config{Retention: time.Minute})
	p := f.createPool(t)
	require.Equal(t, 1, f.manager.Sweep(p.EndTime))

	f.manager.Sweep(p.EndTime.Add(30 * time.Second))
	_, err := f.manager.Get(p.ID)
	require.NoError(t, err)

	f.manager.Sweep(p.EndTime.Add(time.Minute))
	_, err = f.manager.Get(p.ID)
	assert.ErrorIs(t, err, domain.ErrPoolNotFound)
}

func TestList_FiltersByRoom(t *testing.T) {
	f := newFixture(Config{})
	f.createPool(t)
	_, err := f.manager.CreatePool(CreatePoolRequest{
		Owner: "o", Room: "south-stand", Question: "q", Options: []string{"x", "y"}, EndTime: t0.Add(time.Hour),
	}, t0.Add(time.Second))
	require.NoError(t, err)

	assert.Len(t, f.manager.List(""), 2)
	assert.Len(t, f.manager.List("south-stand"), 1)
	assert.Empty(t, f.manager.List("east-stand"))
}

func TestGet_ReturnsCopy(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	got, _ := f.manager.Get(p.ID)
	got.Options[0] = "mutated"

	again, _ := f.manager.Get(p.ID)
	assert.Equal(t, "A", again.Options[0])
}

func TestConcurrentStakesKeepPotConsistent(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Go(func() {
			for i := range 100 {
				opt := "A"
				if (w+i)%2 == 0 {
					opt = "B"
				}
				_, _ = f.manager.PlaceStake(p.ID, fmt.Sprintf("u%d", w), opt, int64(i%7+1), t0)
			}
		})
	}
	wg.Wait()

	got, _ := f.manager.Get(p.ID)
	var fromTotals int64
	for _, tot := range got.Totals {
		fromTotals += tot.Amount
	}
	assert.Equal(t, got.TotalPot, fromTotals)
	assert.Equal(t, 1000, got.StakeCount)

	_, err := f.manager.ResolvePool(p.ID, "A", p.EndTime)
	require.NoError(t, err)
	s := f.settled.all()[0]
	assert.Equal(t, got.TotalPot, s.PaidOut())
}

func TestConcurrentSweepAndResolveSettleOnce(t *testing.T) {
	f := newFixture(Config{})
	p := f.createPool(t)
	_, err := f.manager.PlaceStake(p.ID, "u1", "A", 10, t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() { f.manager.Sweep(p.EndTime) })
	wg.Go(func() { _, _ = f.manager.ResolvePool(p.ID, "A", p.EndTime) })
	wg.Wait()

	assert.Len(t, f.settled.all(), 1)
}
