package collective

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

func (p *recordingPublisher) byKind(kind domain.EventKind) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var t0 = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

func newTestManager(policy Policy) (*Manager, *recordingPublisher, *[]domain.ProposalOutcome) {
	pub := &recordingPublisher{}
	var mu sync.Mutex
	outcomes := &[]domain.ProposalOutcome{}
	m := NewManager(policy, pub, func(o domain.ProposalOutcome) {
		mu.Lock()
		defer mu.Unlock()
		*outcomes = append(*outcomes, o)
	})
	return m, pub, outcomes
}

func propose(t *testing.T, m *Manager, end time.Duration) domain.Proposal {
	t.Helper()
	p, err := m.Propose(ProposeRequest{Proposer: "capo", Room: "north-stand", Action: "Mexican wave", EndTime: t0.Add(end)}, t0)
	require.NoError(t, err)
	return p
}

func TestPropose(t *testing.T) {
	m, pub, _ := newTestManager(Policy{})

	p := propose(t, m, 10*time.Second)

	assert.Equal(t, domain.ProposalActive, p.Status)
	assert.Zero(t, p.YesVotes+p.NoVotes)
	assert.Len(t, pub.byKind(domain.EventProposalCreated), 1)
}

func TestPropose_Validation(t *testing.T) {
	m, _, _ := newTestManager(Policy{})

	_, err := m.Propose(ProposeRequest{Proposer: "capo", Action: " ", EndTime: t0.Add(time.Second)}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Propose(ProposeRequest{Proposer: "capo", Action: "wave", EndTime: t0}, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Propose(ProposeRequest{Action: "wave", EndTime: t0.Add(time.Second)}, t0)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestDeadlineScenario(t *testing.T) {
	m, pub, outcomes := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)

	for i, choice := range []domain.VoteChoice{domain.VoteYes, domain.VoteYes, domain.VoteNo, domain.VoteYes} {
		_, err := m.Vote(p.ID, fmt.Sprintf("fan%d", i), choice, t0.Add(time.Duration(i+1)*time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, m.Sweep(t0.Add(10*time.Second)))

	got, err := m.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalSuccess, got.Status)
	assert.Equal(t, 3, got.YesVotes)
	assert.Equal(t, 1, got.NoVotes)

	_, err = m.Vote(p.ID, "fan5", domain.VoteYes, t0.Add(11*time.Second))
	require.ErrorIs(t, err, domain.ErrProposalClosed)
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.Len(t, *outcomes, 1)
	assert.False(t, (*outcomes)[0].Early)
	assert.Len(t, pub.byKind(domain.EventProposalResolved), 1)
}

func TestVote_DuplicateRejected(t *testing.T) {
	m, pub, _ := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)

	_, err := m.Vote(p.ID, "fan", domain.VoteYes, t0)
	require.NoError(t, err)
	_, err = m.Vote(p.ID, "fan", domain.VoteNo, t0)

	require.ErrorIs(t, err, domain.ErrAlreadyVoted)
	assert.ErrorIs(t, err, domain.ErrConflict)
	got, _ := m.Get(p.ID)
	assert.Equal(t, 1, got.YesVotes)
	assert.Zero(t, got.NoVotes)
	assert.Len(t, pub.byKind(domain.EventProposalUpdated), 1)
}

func TestVote_ClosedTakesPrecedenceOverDuplicate(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)
	_, err := m.Vote(p.ID, "fan", domain.VoteYes, t0)
	require.NoError(t, err)

	_, err = m.Vote(p.ID, "fan", domain.VoteYes, t0.Add(10*time.Second))

	assert.ErrorIs(t, err, domain.ErrProposalClosed)
}

func TestVote_Rejections(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)

	_, err := m.Vote(p.ID, "fan", "maybe", t0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Vote("missing", "fan", domain.VoteYes, t0)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)

	_, err = m.Vote(p.ID, "", domain.VoteYes, t0)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSweep_TieAndNoVotesFail(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	tie := propose(t, m, 10*time.Second)
	empty := propose(t, m, 10*time.Second)
	_, err := m.Vote(tie.ID, "a", domain.VoteYes, t0)
	require.NoError(t, err)
	_, err = m.Vote(tie.ID, "b", domain.VoteNo, t0)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Sweep(t0.Add(10*time.Second)))

	got, _ := m.Get(tie.ID)
	assert.Equal(t, domain.ProposalFailed, got.Status)
	got, _ = m.Get(empty.ID)
	assert.Equal(t, domain.ProposalFailed, got.Status)
}

func TestSweep_BelowQuorumExpires(t *testing.T) {
	m, _, _ := newTestManager(Policy{Quorum: 3})
	p := propose(t, m, 10*time.Second)
	_, err := m.Vote(p.ID, "a", domain.VoteYes, t0)
	require.NoError(t, err)
	_, err = m.Vote(p.ID, "b", domain.VoteYes, t0)
	require.NoError(t, err)

	m.Sweep(t0.Add(10 * time.Second))

	got, _ := m.Get(p.ID)
	assert.Equal(t, domain.ProposalExpired, got.Status)
}

func TestSweep_BeforeDeadlineLeavesActive(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)

	assert.Zero(t, m.Sweep(t0.Add(9*time.Second)))

	got, _ := m.Get(p.ID)
	assert.Equal(t, domain.ProposalActive, got.Status)
}

func TestEarlyThreshold_LocksInSuccess(t *testing.T) {
	m, _, outcomes := newTestManager(Policy{EarlyThreshold: 2})
	p := propose(t, m, 10*time.Second)

	_, err := m.Vote(p.ID, "a", domain.VoteYes, t0)
	require.NoError(t, err)
	got, err := m.Vote(p.ID, "b", domain.VoteYes, t0)
	require.NoError(t, err)

	assert.Equal(t, domain.ProposalSuccess, got.Status)
	require.Len(t, *outcomes, 1)
	assert.True(t, (*outcomes)[0].Early)

	_, err = m.Vote(p.ID, "c", domain.VoteNo, t0.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrProposalClosed)
	assert.Zero(t, m.Sweep(t0.Add(10*time.Second)))
}

func TestEarlyThreshold_LocksInFailure(t *testing.T) {
	m, _, _ := newTestManager(Policy{EarlyThreshold: 1})
	p := propose(t, m, 10*time.Second)

	got, err := m.Vote(p.ID, "a", domain.VoteNo, t0)

	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFailed, got.Status)
}

func TestDeadlineOnly_IgnoresEarlyMajority(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	p := propose(t, m, 10*time.Second)
	for i := range 5 {
		_, err := m.Vote(p.ID, fmt.Sprintf("y%d", i), domain.VoteYes, t0)
		require.NoError(t, err)
	}
	for i := range 6 {
		_, err := m.Vote(p.ID, fmt.Sprintf("n%d", i), domain.VoteNo, t0.Add(5*time.Second))
		require.NoError(t, err)
	}

	m.Sweep(t0.Add(10 * time.Second))

	got, _ := m.Get(p.ID)
	assert.Equal(t, domain.ProposalFailed, got.Status)
}

func TestSweep_PrunesAfterRetention(t *testing.T) {
	m, _, _ := newTestManager(Policy{Retention: time.Minute})
	p := propose(t, m, 10*time.Second)
	m.Sweep(t0.Add(10 * time.Second))

	m.Sweep(t0.Add(30 * time.Second))
	_, err := m.Get(p.ID)
	require.NoError(t, err)

	m.Sweep(t0.Add(70 * time.Second))
	_, err = m.Get(p.ID)
	assert.ErrorIs(t, err, domain.ErrProposalNotFound)
}

func TestConcurrentVotesCountDistinctVoters(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	p := propose(t, m, time.Hour)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 100 {
				choice := domain.VoteYes
				if i%3 == 0 {
					choice = domain.VoteNo
				}
				_, _ = m.Vote(p.ID, fmt.Sprintf("fan%d", i), choice, t0.Add(time.Duration(w)*time.Millisecond))
			}
		})
	}
	wg.Wait()

	got, _ := m.Get(p.ID)
	assert.Equal(t, 100, got.YesVotes+got.NoVotes)
	assert.Equal(t, 34, got.NoVotes)
}

func TestList_FiltersByRoom(t *testing.T) {
	m, _, _ := newTestManager(Policy{})
	propose(t, m, time.Minute)
	_, err := m.Propose(ProposeRequest{Proposer: "x", Room: "away-end", Action: "chant", EndTime: t0.Add(time.Minute)}, t0)
	require.NoError(t, err)

	assert.Len(t, m.List(""), 2)
	assert.Len(t, m.List("away-end"), 1)
}
