package collective

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// Policy decides how proposals resolve.
type Policy struct {
	// Quorum is the minimum number of voters for a deadline decision.
	// Below it the proposal expires instead of failing. 0 disables the check.
	Quorum int
	// EarlyThreshold locks a proposal in as soon as one side reaches this many
	// votes. 0 means proposals only resolve at their deadline.
	EarlyThreshold int
	// Retention keeps resolved proposals readable before pruning.
	Retention time.Duration
}

type proposal struct {
	mu         sync.Mutex
	view       domain.Proposal
	voters     map[string]domain.VoteChoice
	resolvedAt time.Time
}

// Manager owns every proposal; each proposal is mutated only under its own mutex.
type Manager struct {
	policy     Policy
	publisher  domain.EventPublisher
	onResolved func(domain.ProposalOutcome)
	newID      func() string

	mu        sync.RWMutex
	proposals map[string]*proposal
}

// NewManager creates a proposal manager. onResolved may be nil and must not block.
func NewManager(policy Policy, publisher domain.EventPublisher, onResolved func(domain.ProposalOutcome)) *Manager {
	return &Manager{
		policy:     policy,
		publisher:  publisher,
		onResolved: onResolved,
		newID:      func() string { return uuid.NewString() },
		proposals:  make(map[string]*proposal),
	}
}

func (m *Manager) Policy() Policy { return m.policy }

type ProposeRequest struct {
	Proposer string
	Room     string
	Action   string
	EndTime  time.Time
}

func (m *Manager) Propose(req ProposeRequest, now time.Time) (domain.Proposal, error) {
	if req.Proposer == "" {
		return domain.Proposal{}, domain.ErrMissingUserID
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return domain.Proposal{}, domain.Invalid("action must not be empty")
	}
	if !req.EndTime.After(now) {
		return domain.Proposal{}, domain.Invalid("end time must be in the future")
	}

	p := &proposal{
		view: domain.Proposal{
			ID:        m.newID(),
			Room:      req.Room,
			Action:    action,
			Proposer:  req.Proposer,
			Status:    domain.ProposalActive,
			StartTime: now,
			EndTime:   req.EndTime,
			Version:   1,
		},
		voters: make(map[string]domain.VoteChoice),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m.mu.Lock()
	m.proposals[p.view.ID] = p
	m.mu.Unlock()

	m.publish(p, domain.EventProposalCreated, p.view, now)
	return p.view, nil
}

// Vote records one vote per user. A closed proposal rejects before the duplicate check.
func (m *Manager) Vote(proposalID, userID string, choice domain.VoteChoice, now time.Time) (domain.Proposal, error) {
	if userID == "" {
		return domain.Proposal{}, domain.ErrMissingUserID
	}
	if choice != domain.VoteYes && choice != domain.VoteNo {
		return domain.Proposal{}, domain.ErrInvalidChoice
	}
	p, err := m.lookup(proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.view.Status != domain.ProposalActive || !now.Before(p.view.EndTime) {
		return domain.Proposal{}, domain.ErrProposalClosed
	}
	if _, voted := p.voters[userID]; voted {
		return domain.Proposal{}, domain.ErrAlreadyVoted
	}

	p.voters[userID] = choice
	if choice == domain.VoteYes {
		p.view.YesVotes++
	} else {
		p.view.NoVotes++
	}
	p.view.Version++
	m.publish(p, domain.EventProposalUpdated, domain.ProposalTally{YesVotes: p.view.YesVotes, NoVotes: p.view.NoVotes}, now)

	if t := m.policy.EarlyThreshold; t > 0 {
		switch {
		case p.view.YesVotes >= t:
			m.resolveLocked(p, domain.ProposalSuccess, true, now)
		case p.view.NoVotes >= t:
			m.resolveLocked(p, domain.ProposalFailed, true, now)
		}
	}
	return p.view, nil
}

// Sweep resolves proposals whose deadline has passed and prunes old ones.
// It returns the number resolved.
func (m *Manager) Sweep(now time.Time) int {
	resolved := 0
	var prune []string
	for _, p := range m.entries() {
		p.mu.Lock()
		switch {
		case p.view.Status == domain.ProposalActive && !now.Before(p.view.EndTime):
			m.resolveLocked(p, m.deadlineVerdict(p), false, now)
			resolved++
		case p.view.Status.Terminal() && !now.Before(p.resolvedAt.Add(m.policy.Retention)):
			prune = append(prune, p.view.ID)
		}
		p.mu.Unlock()
	}

	if len(prune) > 0 {
		m.mu.Lock()
		for _, id := range prune {
			delete(m.proposals, id)
		}
		m.mu.Unlock()
	}
	return resolved
}

func (m *Manager) Get(proposalID string) (domain.Proposal, error) {
	p, err := m.lookup(proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view, nil
}

// List returns proposals of room ordered by start time; an empty room lists all.
func (m *Manager) List(room string) []domain.Proposal {
	var out []domain.Proposal
	for _, p := range m.entries() {
		p.mu.Lock()
		if room == "" || p.view.Room == room {
			out = append(out, p.view)
		}
		p.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.Proposal) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Manager) deadlineVerdict(p *proposal) domain.ProposalStatus {
	if m.policy.Quorum > 0 && len(p.voters) < m.policy.Quorum {
		return domain.ProposalExpired
	}
	if p.view.YesVotes > p.view.NoVotes {
		return domain.ProposalSuccess
	}
	return domain.ProposalFailed
}

func (m *Manager) resolveLocked(p *proposal, status domain.ProposalStatus, early bool, now time.Time) {
	p.view.Status = status
	p.view.Version++
	p.resolvedAt = now

	outcome := domain.ProposalOutcome{
		ProposalID: p.view.ID,
		Room:       p.view.Room,
		Action:     p.view.Action,
		Status:     status,
		YesVotes:   p.view.YesVotes,
		NoVotes:    p.view.NoVotes,
		Early:      early,
		ResolvedAt: now,
	}
	m.publish(p, domain.EventProposalResolved, outcome, now)
	if m.onResolved != nil {
		m.onResolved(outcome)
	}
}

func (m *Manager) publish(p *proposal, kind domain.EventKind, payload any, now time.Time) {
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

func (m *Manager) lookup(proposalID string) (*proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[proposalID]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	return p, nil
}

func (m *Manager) entries() []*proposal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	return out
}
