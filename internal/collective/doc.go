// Package collective manages crowd proposals decided by one-vote-per-user
// majority at a deadline, with an optional early lock-in threshold.
package collective
