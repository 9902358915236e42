// Package broadcast fans domain events out to attached spectator queues.
//
// Publishers hand over an event once; it is encoded a single time and offered to
// every queue in scope without blocking. A full queue loses the event and the
// loss is counted, so one slow spectator never stalls the state machines.
package broadcast
