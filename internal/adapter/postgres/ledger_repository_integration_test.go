package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pscheid92/crowdpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedSettlement() domain.Settlement {
	return domain.Settlement{
		PoolID:        "pool-1",
		Room:          "stage",
		Status:        domain.PoolResolved,
		WinningOption: "home",
		TotalPot:      400,
		WinningTotal:  100,
		Payouts: []domain.Payout{
			{UserID: "bob", Option: "home", Stake: 100, Amount: 400},
			{UserID: "carol", Option: "away", Stake: 300, Amount: 0},
		},
		SettledAt: time.Date(2026, 6, 1, 20, 1, 0, 0, time.UTC),
	}
}

func TestRecordSettlement_RoundTrip(t *testing.T) {
	repo := NewLedgerRepo(ledgerDB(t))
	ctx := context.Background()
	want := resolvedSettlement()

	require.NoError(t, repo.RecordSettlement(ctx, want))

	got, err := repo.GetSettlement(ctx, want.PoolID)
	require.NoError(t, err)
	assert.True(t, want.SettledAt.Equal(got.SettledAt))
	got.SettledAt = want.SettledAt
	assert.Equal(t, want, *got)
}

func TestRecordSettlement_RetryDoesNotDuplicatePayouts(t *testing.T) {
	pool := ledgerDB(t)
	repo := NewLedgerRepo(pool)
	ctx := context.Background()

	require.NoError(t, repo.RecordSettlement(ctx, resolvedSettlement()))
	require.NoError(t, repo.RecordSettlement(ctx, resolvedSettlement()))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM pool_payouts WHERE pool_id = $1", "pool-1").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestRecordSettlement_VoidWithoutStakes(t *testing.T) {
	repo := NewLedgerRepo(ledgerDB(t))
	ctx := context.Background()

	err := repo.RecordSettlement(ctx, domain.Settlement{
		PoolID:    "pool-empty",
		Status:    domain.PoolExpired,
		Void:      true,
		SettledAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err := repo.GetSettlement(ctx, "pool-empty")
	require.NoError(t, err)
	assert.True(t, got.Void)
	assert.Empty(t, got.Payouts)
}

func TestGetSettlement_NotFound(t *testing.T) {
	repo := NewLedgerRepo(ledgerDB(t))

	got, err := repo.GetSettlement(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrSettlementNotFound)
	assert.Nil(t, got)
}

func TestRecordProposalOutcome(t *testing.T) {
	pool := ledgerDB(t)
	repo := NewLedgerRepo(pool)
	ctx := context.Background()
	outcome := domain.ProposalOutcome{
		ProposalID: "prop-1",
		Action:     "wave",
		Status:     domain.ProposalSuccess,
		YesVotes:   3,
		NoVotes:    1,
		Early:      true,
		ResolvedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.RecordProposalOutcome(ctx, outcome))
	require.NoError(t, repo.RecordProposalOutcome(ctx, outcome))

	var status string
	var yes int
	require.NoError(t, pool.QueryRow(ctx, "SELECT status, yes_votes FROM proposal_outcomes WHERE proposal_id = $1", "prop-1").Scan(&status, &yes))
	assert.Equal(t, "success", status)
	assert.Equal(t, 3, yes)
}
