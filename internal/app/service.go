package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/betting"
	"github.com/pscheid92/crowdpulse/internal/broadcast"
	"github.com/pscheid92/crowdpulse/internal/collective"
	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/pscheid92/crowdpulse/internal/emotion"
	"github.com/pscheid92/crowdpulse/internal/session"
	"golang.org/x/sync/singleflight"
)

// Hub attaches connection queues to the event fan-out.
type Hub interface {
	Attach(connID, room string, out broadcast.Outbound) error
	Detach(connID string) bool
}

// Deps wires a Service. Metrics, Settlements and ForgetOnDisconnect are optional.
type Deps struct {
	Emotions  *emotion.Aggregator
	Pools     *betting.Manager
	Proposals *collective.Manager
	Sessions  *session.Registry
	Hub       Hub
	Publisher domain.EventPublisher
	Clock     clockwork.Clock

	Settlements        domain.SettlementReader
	ForgetOnDisconnect bool

	EmotionMetrics *metrics.EmotionMetrics
	BettingMetrics *metrics.BettingMetrics
	VoteMetrics    *metrics.VoteMetrics
}

// Service is the only component that references all managers.
type Service struct {
	emotions    *emotion.Aggregator
	pools       *betting.Manager
	proposals   *collective.Manager
	sessions    *session.Registry
	hub         Hub
	publisher   domain.EventPublisher
	settlements domain.SettlementReader
	clock       clockwork.Clock
	forget      bool

	emotionMetrics *metrics.EmotionMetrics
	bettingMetrics *metrics.BettingMetrics
	voteMetrics    *metrics.VoteMetrics

	snapshotGroup singleflight.Group

	presenceMu      sync.Mutex
	presenceVersion uint64
}

func NewService(deps Deps) *Service {
	s := &Service{
		emotions:       deps.Emotions,
		pools:          deps.Pools,
		proposals:      deps.Proposals,
		sessions:       deps.Sessions,
		hub:            deps.Hub,
		publisher:      deps.Publisher,
		settlements:    deps.Settlements,
		clock:          deps.Clock,
		forget:         deps.ForgetOnDisconnect,
		emotionMetrics: deps.EmotionMetrics,
		bettingMetrics: deps.BettingMetrics,
		voteMetrics:    deps.VoteMetrics,
	}
	s.sessions.OnPresenceChange(s.userJoined, s.userLeft)
	return s
}

// Connect registers a session, attaches its queue and returns the state the
// spectator starts from. Events published after the attach reach out, so a
// client keeping the highest version per entity never misses an update.
func (s *Service) Connect(_ context.Context, connID string, identity domain.Identity, room string, out broadcast.Outbound) (domain.Snapshot, error) {
	if _, err := s.sessions.Register(connID, identity, room); err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.hub.Attach(connID, room, out); err != nil {
		s.sessions.Unregister(connID)
		return domain.Snapshot{}, err
	}
	return s.readSnapshot(room), nil
}

func (s *Service) Disconnect(_ context.Context, connID string) {
	s.hub.Detach(connID)
	s.sessions.Unregister(connID)
}

func (s *Service) ActivateEmotion(ctx context.Context, identity domain.Identity, emotionType string) (domain.EmotionAggregate, error) {
	agg, err := s.emotions.Activate(identity.UserID, domain.EmotionType(emotionType), s.clock.Now())
	if err != nil {
		return domain.EmotionAggregate{}, err
	}
	if s.emotionMetrics != nil {
		s.emotionMetrics.Activations.WithLabelValues(emotionType).Inc()
	}
	slog.DebugContext(ctx, "Emotion activated", "emotion", emotionType)
	return agg, nil
}

func (s *Service) Emotions() domain.EmotionAggregate {
	return s.emotions.Aggregate(s.clock.Now())
}

func (s *Service) CreatePool(ctx context.Context, identity domain.Identity, args CreatePoolArgs) (domain.Pool, error) {
	now := s.clock.Now()
	end, err := deadline(now, args.EndTime, args.DurationSeconds)
	if err != nil {
		return domain.Pool{}, err
	}
	pool, err := s.pools.CreatePool(betting.CreatePoolRequest{
		Owner:    identity.UserID,
		Room:     args.Room,
		Question: args.Question,
		Options:  args.Options,
		EndTime:  end,
	}, now)
	if err != nil {
		return domain.Pool{}, err
	}
	if s.bettingMetrics != nil {
		s.bettingMetrics.PoolsCreated.Inc()
	}
	slog.InfoContext(ctx, "Pool created", "pool_id", pool.ID, "owner", pool.Owner, "room", pool.Room, "options", len(pool.Options), "end_time", pool.EndTime)
	return pool, nil
}

func (s *Service) PlaceStake(ctx context.Context, identity domain.Identity, args StakeArgs) (domain.PoolTotals, error) {
	totals, err := s.pools.PlaceStake(args.PoolID, identity.UserID, args.Option, args.Amount, s.clock.Now())
	if s.bettingMetrics != nil {
		s.bettingMetrics.Stakes.WithLabelValues(resultLabel(err)).Inc()
		if err == nil {
			s.bettingMetrics.StakeVolume.Add(float64(args.Amount))
		}
	}
	if err != nil {
		return domain.PoolTotals{}, err
	}
	slog.DebugContext(ctx, "Stake placed", "pool_id", args.PoolID, "option", args.Option, "amount", args.Amount)
	return totals, nil
}

// ClosePool lets the owner resolve with a winner, or void the pool once it ended.
func (s *Service) ClosePool(ctx context.Context, identity domain.Identity, args ResolveArgs) (domain.PoolOutcome, error) {
	outcome, err := s.pools.ClosePool(args.PoolID, identity.UserID, args.WinningOption, s.clock.Now())
	if err != nil {
		return domain.PoolOutcome{}, err
	}
	slog.InfoContext(ctx, "Pool closed by owner", "pool_id", args.PoolID, "status", outcome.Status, "winning_option", outcome.WinningOption, "void", outcome.Void)
	return outcome, nil
}

// ResolvePool is the administrative resolution of an ended pool.
func (s *Service) ResolvePool(ctx context.Context, identity domain.Identity, args ResolveArgs) (domain.PoolOutcome, error) {
	if identity.UserID == "" {
		return domain.PoolOutcome{}, domain.ErrMissingUserID
	}
	if !identity.Admin {
		return domain.PoolOutcome{}, domain.ErrNotAdmin
	}
	outcome, err := s.pools.ResolvePool(args.PoolID, args.WinningOption, s.clock.Now())
	if err != nil {
		return domain.PoolOutcome{}, err
	}
	slog.InfoContext(ctx, "Pool resolved", "pool_id", args.PoolID, "winning_option", outcome.WinningOption, "total_pot", outcome.TotalPot, "void", outcome.Void)
	return outcome, nil
}

func (s *Service) Pool(poolID string) (domain.Pool, error) {
	return s.pools.Get(poolID)
}

func (s *Service) Pools(room string) []domain.Pool {
	return s.pools.List(room)
}

// Settlement returns the recorded payouts of a terminal pool.
func (s *Service) Settlement(ctx context.Context, poolID string) (*domain.Settlement, error) {
	if s.settlements == nil {
		return nil, domain.ErrSettlementNotFound
	}
	return s.settlements.GetSettlement(ctx, poolID)
}

func (s *Service) Propose(ctx context.Context, identity domain.Identity, args ProposeArgs) (domain.Proposal, error) {
	now := s.clock.Now()
	end, err := deadline(now, args.EndTime, args.DurationSeconds)
	if err != nil {
		return domain.Proposal{}, err
	}
	p, err := s.proposals.Propose(collective.ProposeRequest{
		Proposer: identity.UserID,
		Room:     args.Room,
		Action:   args.Action,
		EndTime:  end,
	}, now)
	if err != nil {
		return domain.Proposal{}, err
	}
	if s.voteMetrics != nil {
		s.voteMetrics.Proposals.Inc()
	}
	slog.InfoContext(ctx, "Proposal created", "proposal_id", p.ID, "proposer", p.Proposer, "room", p.Room, "end_time", p.EndTime)
	return p, nil
}

func (s *Service) Vote(ctx context.Context, identity domain.Identity, args VoteArgs) (domain.Proposal, error) {
	p, err := s.proposals.Vote(args.ProposalID, identity.UserID, domain.VoteChoice(args.Choice), s.clock.Now())
	s.countVote(args.Choice, err)
	if err != nil {
		return domain.Proposal{}, err
	}
	slog.DebugContext(ctx, "Vote cast", "proposal_id", args.ProposalID, "choice", args.Choice)
	return p, nil
}

func (s *Service) Proposal(proposalID string) (domain.Proposal, error) {
	return s.proposals.Get(proposalID)
}

func (s *Service) Proposals(room string) []domain.Proposal {
	return s.proposals.List(room)
}

// Snapshot assembles the full state of room for polling clients. Concurrent
// calls for the same room share one computation, so a result may predate the
// call by one read.
func (s *Service) Snapshot(_ context.Context, room string) domain.Snapshot {
	v, _, _ := s.snapshotGroup.Do("room:"+room, func() (any, error) {
		return s.readSnapshot(room), nil
	})
	return v.(domain.Snapshot)
}

// readSnapshot reads every manager now. Attached connections use it directly:
// a shared read could start before their attach and miss what happened since.
func (s *Service) readSnapshot(room string) domain.Snapshot {
	now := s.clock.Now()
	return domain.Snapshot{
		Emotions:   s.emotions.Aggregate(now),
		Pools:      s.pools.List(room),
		Proposals:  s.proposals.List(room),
		Presence:   s.sessions.Presence(room),
		ServerTime: now,
	}
}

// Presence reports connected spectators, crowd-wide for an empty room.
func (s *Service) Presence(room string) domain.Presence {
	return s.sessions.Presence(room)
}

// SweepTasks returns the periodic work the Sweeper drives.
func (s *Service) SweepTasks(emotionInterval, lifecycleInterval time.Duration) []SweepTask {
	return []SweepTask{
		{Name: "emotions", Interval: emotionInterval, Sweep: s.sweepEmotions},
		{Name: "lifecycle", Interval: lifecycleInterval, Sweep: s.sweepLifecycle},
	}
}

func (s *Service) sweepEmotions(now time.Time) int {
	removed := s.emotions.Sweep(now)
	if s.emotionMetrics != nil {
		s.emotionMetrics.Decayed.Add(float64(removed))
		s.emotionMetrics.ActiveRecords.Set(float64(s.emotions.ActiveRecords()))
	}
	return removed
}

func (s *Service) sweepLifecycle(now time.Time) int {
	return s.pools.Sweep(now) + s.proposals.Sweep(now)
}

func (s *Service) userJoined(string) {
	s.publishPresence()
}

func (s *Service) userLeft(userID string) {
	if s.forget {
		removed := s.emotions.Forget(userID, s.clock.Now())
		if s.emotionMetrics != nil {
			s.emotionMetrics.Decayed.Add(float64(removed))
		}
	}
	s.publishPresence()
}

func (s *Service) publishPresence() {
	if s.publisher == nil {
		return
	}
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.presenceVersion++
	s.publisher.Publish(domain.Event{
		Kind:       domain.EventPresence,
		EntityID:   "presence",
		Version:    s.presenceVersion,
		Payload:    s.sessions.Presence(""),
		ServerTime: s.clock.Now(),
	})
}

func (s *Service) countVote(choice string, err error) {
	if s.voteMetrics == nil {
		return
	}
	if choice != string(domain.VoteYes) && choice != string(domain.VoteNo) {
		choice = "invalid"
	}
	s.voteMetrics.VotesCast.WithLabelValues(choice, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.Code(err)
}

// deadline resolves an absolute end time or a duration relative to now.
func deadline(now time.Time, end *time.Time, durationSeconds int) (time.Time, error) {
	switch {
	case end != nil:
		return *end, nil
	case durationSeconds > 0:
		return now.Add(time.Duration(durationSeconds) * time.Second), nil
	default:
		return time.Time{}, domain.Invalid("endTime or a positive durationSeconds is required")
	}
}
