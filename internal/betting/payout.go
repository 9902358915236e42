package betting

import (
	"math/bits"
	"sort"

	"github.com/pscheid92/crowdpulse/internal/domain"
)

// payouts splits totalPot pari-mutuel style among stakes on winner. Each winning
// stake gets floor(amount*totalPot/winningTotal); the leftover units go one each
// to the largest remainders, earlier stakes first on ties, so the sum is exactly
// totalPot. A pool nobody backed on winner is void and refunds every stake.
func payouts(stakes []domain.Stake, winner string, totalPot int64) (out []domain.Payout, winningTotal int64, void bool) {
	for _, s := range stakes {
		if s.Option == winner {
			winningTotal += s.Amount
		}
	}
	if winningTotal == 0 {
		return refunds(stakes), 0, true
	}

	type share struct {
		index     int
		remainder uint64
	}

	out = make([]domain.Payout, len(stakes))
	shares := make([]share, 0, len(stakes))
	var distributed int64
	for i, s := range stakes {
		out[i] = domain.Payout{UserID: s.UserID, Option: s.Option, Stake: s.Amount}
		if s.Option != winner {
			continue
		}
		hi, lo := bits.Mul64(uint64(s.Amount), uint64(totalPot))
		quo, rem := bits.Div64(hi, lo, uint64(winningTotal))
		out[i].Amount = int64(quo)
		distributed += int64(quo)
		shares = append(shares, share{index: i, remainder: rem})
	}

	sort.SliceStable(shares, func(a, b int) bool {
		return shares[a].remainder > shares[b].remainder
	})
	for leftover, k := totalPot-distributed, 0; leftover > 0; leftover, k = leftover-1, k+1 {
		out[shares[k%len(shares)].index].Amount++
	}
	return out, winningTotal, false
}

func refunds(stakes []domain.Stake) []domain.Payout {
	out := make([]domain.Payout, len(stakes))
	for i, s := range stakes {
		out[i] = domain.Payout{UserID: s.UserID, Option: s.Option, Stake: s.Amount, Amount: s.Amount}
	}
	return out
}

// totals returns per-option sums in option order with shares of the pot.
func totals(options []string, stakes []domain.Stake, totalPot int64) []domain.OptionTotal {
	sums := make(map[string]int64, len(options))
	for _, s := range stakes {
		sums[s.Option] += s.Amount
	}
	out := make([]domain.OptionTotal, len(options))
	for i, opt := range options {
		out[i] = domain.OptionTotal{Option: opt, Amount: sums[opt]}
		if totalPot > 0 {
			out[i].Share = float64(sums[opt]) / float64(totalPot)
		}
	}
	return out
}
