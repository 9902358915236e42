package domain

import "context"

// Ledger is the durable record of terminal outcomes.
type Ledger interface {
	RecordSettlement(ctx context.Context, settlement Settlement) error
	RecordProposalOutcome(ctx context.Context, outcome ProposalOutcome) error
}

// SettlementReader looks up recorded settlements. Returns ErrSettlementNotFound when absent.
type SettlementReader interface {
	GetSettlement(ctx context.Context, poolID string) (*Settlement, error)
}
