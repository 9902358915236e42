// Package emotion tracks per-user emotion activations with time decay and
// aggregates them into crowd-wide percentages.
//
// One record per (user, emotion type); re-activation refreshes its timestamp.
// Records live in xxhash-striped shards, each behind its own mutex. Sweep is
// driven externally by the scheduler in internal/app.
package emotion
