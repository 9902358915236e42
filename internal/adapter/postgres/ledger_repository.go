package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// LedgerRepo is the durable domain.Ledger. Writes are idempotent per entity,
// so a retried write after an ambiguous failure never duplicates payouts.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

var (
	_ domain.Ledger           = (*LedgerRepo)(nil)
	_ domain.SettlementReader = (*LedgerRepo)(nil)
)

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const insertSettlement = `
INSERT INTO pool_settlements (pool_id, room, status, winning_option, void, total_pot, winning_total, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (pool_id) DO NOTHING`

const insertPayout = `
INSERT INTO pool_payouts (pool_id, seq, user_id, option, stake, amount)
VALUES ($1, $2, $3, $4, $5, $6)`

func (r *LedgerRepo) RecordSettlement(ctx context.Context, s domain.Settlement) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertSettlement,
			s.PoolID, s.Room, string(s.Status), s.WinningOption, s.Void, s.TotalPot, s.WinningTotal, s.SettledAt)
		if err != nil {
			return fmt.Errorf("failed to insert settlement: %w", err)
		}
		if tag.RowsAffected() == 0 || len(s.Payouts) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, p := range s.Payouts {
			batch.Queue(insertPayout, s.PoolID, i, p.UserID, p.Option, p.Stake, p.Amount)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert payouts: %w", err)
		}
		return nil
	})
}

const insertProposalOutcome = `
INSERT INTO proposal_outcomes (proposal_id, room, action, status, yes_votes, no_votes, early, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (proposal_id) DO NOTHING`

func (r *LedgerRepo) RecordProposalOutcome(ctx context.Context, o domain.ProposalOutcome) error {
	_, err := r.pool.Exec(ctx, insertProposalOutcome,
		o.ProposalID, o.Room, o.Action, string(o.Status), o.YesVotes, o.NoVotes, o.Early, o.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert proposal outcome: %w", err)
	}
	return nil
}

const selectSettlement = `
SELECT room, status, winning_option, void, total_pot, winning_total, settled_at
FROM pool_settlements WHERE pool_id = $1`

const selectPayouts = `
SELECT user_id, option, stake, amount
FROM pool_payouts WHERE pool_id = $1 ORDER BY seq`

func (r *LedgerRepo) GetSettlement(ctx context.Context, poolID string) (*domain.Settlement, error) {
	s := domain.Settlement{PoolID: poolID}
	var status string
	err := r.pool.QueryRow(ctx, selectSettlement, poolID).
		Scan(&s.Room, &status, &s.WinningOption, &s.Void, &s.TotalPot, &s.WinningTotal, &s.SettledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSettlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	s.Status = domain.PoolStatus(status)

	rows, err := r.pool.Query(ctx, selectPayouts, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	s.Payouts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payout, error) {
		var p domain.Payout
		err := row.Scan(&p.UserID, &p.Option, &p.Stake, &p.Amount)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan payouts: %w", err)
	}
	s.SettledAt = s.SettledAt.UTC()
	return &s, nil
}
