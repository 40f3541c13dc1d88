// Package realtime is the key-addressed, last-value-wins broadcast medium that
// keeps the register, the customer display and stock observers in sync.
//
// A publisher replaces the value visible at a key. A subscriber receives the
// current value immediately, then every later one. Each value carries a
// sequence number; a subscriber never observes a sequence number lower than
// one it has already seen, and a slow subscriber skips straight to the newest
// value instead of queueing.
//
// Two transports implement Channel:
//
//   - Broker: in-process, for single-node deployments and tests
//   - RedisChannel: Redis SET + PUBLISH, for multi-node deployments
//
// Delivery is best-effort. Callers that must not fail because of the channel
// publish through a Notifier.
package realtime
