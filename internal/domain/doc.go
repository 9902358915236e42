// Package domain defines the crowd-state types and the contracts between packages.
//
// Concept-oriented files (event.go, emotion.go, pool.go, proposal.go, session.go, errors.go).
// No behavior beyond small helpers - the managers live in their own packages and the
// adapters depend on these contracts rather than on each other.
package domain
