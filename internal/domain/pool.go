package domain

import "time"

type PoolStatus string

const (
	PoolActive   PoolStatus = "active"
	PoolResolved PoolStatus = "resolved"
	PoolExpired  PoolStatus = "expired"
)

func (s PoolStatus) Terminal() bool { return s == PoolResolved || s == PoolExpired }

// Amounts are integer minor units (cents) so payouts add up exactly.
type Stake struct {
	UserID   string    `json:"userId"`
	Option   string    `json:"option"`
	Amount   int64     `json:"amount"`
	PlacedAt time.Time `json:"placedAt"`
}

type OptionTotal struct {
	Option string  `json:"option"`
	Amount int64   `json:"amount"`
	Share  float64 `json:"share"`
}

// Pool is the public view of a betting pool. The stake list stays inside the manager.
type Pool struct {
	ID            string        `json:"id"`
	Room          string        `json:"room,omitempty"`
	Question      string        `json:"question"`
	Owner         string        `json:"owner"`
	Options       []string      `json:"options"`
	Status        PoolStatus    `json:"status"`
	WinningOption string        `json:"winningOption,omitempty"`
	TotalPot      int64         `json:"totalPot"`
	Totals        []OptionTotal `json:"totals"`
	StakeCount    int           `json:"stakeCount"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Version       uint64        `json:"version"`
}

// PoolTotals is the pool.updated payload.
type PoolTotals struct {
	TotalPot   int64         `json:"totalPot"`
	Totals     []OptionTotal `json:"totals"`
	StakeCount int           `json:"stakeCount"`
}

// PoolOutcome is the pool.resolved and pool.expired payload.
type PoolOutcome struct {
	Status        PoolStatus `json:"status"`
	WinningOption string     `json:"winningOption,omitempty"`
	TotalPot      int64      `json:"totalPot"`
	WinningTotal  int64      `json:"winningTotal"`
	PayoutRatio   float64    `json:"payoutRatio"`
	Void          bool       `json:"void"`
}

type Payout struct {
	UserID string `json:"userId"`
	Option string `json:"option"`
	Stake  int64  `json:"stake"`
	Amount int64  `json:"amount"`
}

// Settlement carries per-stake payouts of a terminal pool to the ledger.
// For void pools every Payout.Amount equals its Stake.
type Settlement struct {
	PoolID        string     `json:"poolId"`
	Room          string     `json:"room,omitempty"`
	Status        PoolStatus `json:"status"`
	WinningOption string     `json:"winningOption,omitempty"`
	Void          bool       `json:"void"`
	TotalPot      int64      `json:"totalPot"`
	WinningTotal  int64      `json:"winningTotal"`
	Payouts       []Payout   `json:"payouts"`
	SettledAt     time.Time  `json:"settledAt"`
}

func (s Settlement) PaidOut() int64 {
	var sum int64
	for _, p := range s.Payouts {
		sum += p.Amount
	}
	return sum
}
