// Package domain defines the checkout session, order and stock types shared by
// the tillsync services, together with the structured error taxonomy every layer
// reports through.
//
// Money is always an int64 count of minor currency units. Timestamps are UTC.
package domain
