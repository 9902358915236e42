// Package betting manages pari-mutuel betting pools: creation, stakes, owner
// close, resolution into exact integer payouts, and void expiry with refunds.
package betting
