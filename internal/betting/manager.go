package betting

import (
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// Config tunes lifecycle behavior. Zero values are valid.
type Config struct {
	// ResolutionGrace delays sweep expiry past EndTime so owners can still resolve.
	ResolutionGrace time.Duration
	// Retention keeps terminal pools readable for late joiners before pruning.
	Retention time.Duration
}

type pool struct {
	mu        sync.Mutex
	view      domain.Pool
	stakes    []domain.Stake
	settledAt time.Time
}

// Manager owns all betting pools. The registry lock guards membership only;
// every pool mutation happens under that pool's own mutex.
type Manager struct {
	cfg       Config
	publisher domain.EventPublisher
	onSettled func(domain.Settlement)
	newID     func() string

	mu    sync.RWMutex
	pools map[string]*pool
}

// NewManager creates a pool manager. onSettled receives every terminal pool's
// payouts and may be nil; it must not block.
func NewManager(cfg Config, publisher domain.EventPublisher, onSettled func(domain.Settlement)) *Manager {
	return &Manager{
		cfg:       cfg,
		publisher: publisher,
		onSettled: onSettled,
		newID:     func() string { return uuid.NewString() },
		pools:     make(map[string]*pool),
	}
}

type CreatePoolRequest struct {
	Owner    string
	Room     string
	Question string
	Options  []string
	EndTime  time.Time
}

func (m *Manager) CreatePool(req CreatePoolRequest, now time.Time) (domain.Pool, error) {
	if req.Owner == "" {
		return domain.Pool{}, domain.ErrMissingUserID
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.Pool{}, domain.Invalid("question must not be empty")
	}
	if len(req.Options) < 2 {
		return domain.Pool{}, domain.Invalid("a pool needs at least two options")
	}
	options := make([]string, len(req.Options))
	for i, opt := range req.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			return domain.Pool{}, domain.Invalid("option %d is empty", i)
		}
		if slices.Contains(options[:i], opt) {
			return domain.Pool{}, domain.Invalid("duplicate option %q", opt)
		}
		options[i] = opt
	}
	if !req.EndTime.After(now) {
		return domain.Pool{}, domain.Invalid("end time must be in the future")
	}

	p := &pool{view: domain.Pool{
		ID:        m.newID(),
		Room:      req.Room,
		Question:  question,
		Owner:     req.Owner,
		Options:   options,
		Status:    domain.PoolActive,
		Totals:    totals(options, nil, 0),
		StartTime: now,
		EndTime:   req.EndTime,
		Version:   1,
	}}

	p.mu.Lock()
	defer p.mu.Unlock()

	m.mu.Lock()
	m.pools[p.view.ID] = p
	m.mu.Unlock()

	view := p.snapshot()
	m.publish(p, domain.EventPoolCreated, view, now)
	return view, nil
}

func (m *Manager) PlaceStake(poolID, userID, option string, amount int64, now time.Time) (domain.PoolTotals, error) {
	if userID == "" {
		return domain.PoolTotals{}, domain.ErrMissingUserID
	}
	p, err := m.lookup(poolID)
	if err != nil {
		return domain.PoolTotals{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.view.Status != domain.PoolActive || !now.Before(p.view.EndTime) {
		return domain.PoolTotals{}, domain.ErrPoolClosed
	}
	if !slices.Contains(p.view.Options, option) {
		return domain.PoolTotals{}, domain.ErrInvalidOption
	}
	if amount <= 0 {
		return domain.PoolTotals{}, domain.ErrInvalidAmount
	}
	if p.view.TotalPot > math.MaxInt64-amount {
		return domain.PoolTotals{}, domain.Invalid("stake would overflow the pot")
	}

	p.stakes = append(p.stakes, domain.Stake{UserID: userID, Option: option, Amount: amount, PlacedAt: now})
	p.view.TotalPot += amount
	p.view.StakeCount = len(p.stakes)
	p.view.Totals = totals(p.view.Options, p.stakes, p.view.TotalPot)
	p.view.Version++

	update := domain.PoolTotals{
		TotalPot:   p.view.TotalPot,
		Totals:     slices.Clone(p.view.Totals),
		StakeCount: p.view.StakeCount,
	}
	m.publish(p, domain.EventPoolUpdated, update, now)
	return update, nil
}

// ClosePool is the owner's lever. With a winning option it resolves the pool
// immediately; without one it voids a pool whose end time has passed.
func (m *Manager) ClosePool(poolID, actorID, winningOption string, now time.Time) (domain.PoolOutcome, error) {
	p, err := m.lookup(poolID)
	if err != nil {
		return domain.PoolOutcome{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.view.Owner != actorID {
		return domain.PoolOutcome{}, domain.ErrNotPoolOwner
	}
	if p.view.Status != domain.PoolActive {
		return domain.PoolOutcome{}, domain.ErrPoolClosed
	}
	if winningOption != "" {
		return m.resolveLocked(p, winningOption, now)
	}
	if now.Before(p.view.EndTime) {
		return domain.PoolOutcome{}, domain.Invalid("a winning option is required before the end time")
	}
	return m.expireLocked(p, now), nil
}

// ResolvePool settles an active pool whose end time has passed.
func (m *Manager) ResolvePool(poolID, winningOption string, now time.Time) (domain.PoolOutcome, error) {
	p, err := m.lookup(poolID)
	if err != nil {
		return domain.PoolOutcome{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.view.Status != domain.PoolActive {
		return domain.PoolOutcome{}, domain.ErrPoolClosed
	}
	if now.Before(p.view.EndTime) {
		return domain.PoolOutcome{}, domain.ErrPoolNotEnded
	}
	return m.resolveLocked(p, winningOption, now)
}

// Sweep expires overdue pools and prunes terminal ones past retention.
// It returns the number of pools that expired.
func (m *Manager) Sweep(now time.Time) int {
	expired := 0
	var prune []string
	for _, p := range m.entries() {
		p.mu.Lock()
		switch {
		case p.view.Status == domain.PoolActive && !now.Before(p.view.EndTime.Add(m.cfg.ResolutionGrace)):
			m.expireLocked(p, now)
			expired++
		case p.view.Status.Terminal() && !now.Before(p.settledAt.Add(m.cfg.Retention)):
			prune = append(prune, p.view.ID)
		}
		p.mu.Unlock()
	}

	if len(prune) > 0 {
		m.mu.Lock()
		for _, id := range prune {
			delete(m.pools, id)
		}
		m.mu.Unlock()
	}
	return expired
}

func (m *Manager) Get(poolID string) (domain.Pool, error) {
	p, err := m.lookup(poolID)
	if err != nil {
		return domain.Pool{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(), nil
}

// List returns pools of room ordered by start time; an empty room lists all.
func (m *Manager) List(room string) []domain.Pool {
	var out []domain.Pool
	for _, p := range m.entries() {
		p.mu.Lock()
		if room == "" || p.view.Room == room {
			out = append(out, p.snapshot())
		}
		p.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.Pool) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Manager) resolveLocked(p *pool, winningOption string, now time.Time) (domain.PoolOutcome, error) {
	if !slices.Contains(p.view.Options, winningOption) {
		return domain.PoolOutcome{}, domain.ErrInvalidOption
	}

	result, winningTotal, void := payouts(p.stakes, winningOption, p.view.TotalPot)
	p.view.Status = domain.PoolResolved
	p.view.WinningOption = winningOption
	p.view.Version++
	p.settledAt = now

	outcome := domain.PoolOutcome{
		Status:        domain.PoolResolved,
		WinningOption: winningOption,
		TotalPot:      p.view.TotalPot,
		WinningTotal:  winningTotal,
		Void:          void,
	}
	if winningTotal > 0 {
		outcome.PayoutRatio = float64(p.view.TotalPot) / float64(winningTotal)
	}

	m.publish(p, domain.EventPoolResolved, outcome, now)
	m.settle(p, outcome, result, now)
	return outcome, nil
}

func (m *Manager) expireLocked(p *pool, now time.Time) domain.PoolOutcome {
	p.view.Status = domain.PoolExpired
	p.view.Version++
	p.settledAt = now

	outcome := domain.PoolOutcome{
		Status:   domain.PoolExpired,
		TotalPot: p.view.TotalPot,
		Void:     true,
	}
	m.publish(p, domain.EventPoolExpired, outcome, now)
	m.settle(p, outcome, refunds(p.stakes), now)
	return outcome
}

func (m *Manager) settle(p *pool, outcome domain.PoolOutcome, result []domain.Payout, now time.Time) {
	if m.onSettled == nil {
		return
	}
	m.onSettled(domain.Settlement{
		PoolID:        p.view.ID,
		Room:          p.view.Room,
		Status:        outcome.Status,
		WinningOption: outcome.WinningOption,
		Void:          outcome.Void,
		TotalPot:      outcome.TotalPot,
		WinningTotal:  outcome.WinningTotal,
		Payouts:       result,
		SettledAt:     now,
	})
}

func (m *Manager) publish(p *pool, kind domain.EventKind, payload any, now time.Time) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(domain.Event{
		Kind:       kind,
		EntityID:   p.view.ID,
		Room:       p.view.Room,
		Version:    p.view.Version,
		Payload:    payload,
		ServerTime: now,
	})
}

func (m *Manager) lookup(poolID string) (*pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[poolID]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	return p, nil
}

func (m *Manager) entries() []*pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	return out
}

func (p *pool) snapshot() domain.Pool {
	v := p.view
	v.Options = slices.Clone(p.view.Options)
	v.Totals = slices.Clone(p.view.Totals)
	return v
}
