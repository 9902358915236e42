// Package app is the application service layer.
//
// It binds connections to identities, routes commands to the emotion, betting and
// collective managers, assembles snapshots for late joiners, drives the decay and
// lifecycle sweeps, and hands terminal outcomes to the ledger off the hot path.
package app
