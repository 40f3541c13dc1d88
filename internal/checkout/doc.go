// Package checkout owns the lifecycle of a checkout session shared by a
// cashier's register and a customer-facing display.
//
// A session moves forward only: OPEN → PAYMENT → CLOSED, or OPEN → CLOSED.
// Every accepted mutation bumps the session version by one, is persisted with
// a compare-and-set on the previous version, and is then published as a
// complete snapshot on the realtime channel. Publishing is best-effort; a
// display that misses a publish converges by re-reading the store.
package checkout
