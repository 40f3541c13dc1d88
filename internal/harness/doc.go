// Package harness runs YAML conformance scenarios against the checkout and
// fulfillment services.
//
// A scenario seeds a catalog, drives a flow of operations through the real
// services on an in-memory store, and checks the resulting trace and final
// state.
//
// # Scenario Format
//
//	name: register_close
//	description: "What this scenario validates"
//	items:
//	  - { id: 7, name: Nasi Goreng, unit_price: 15000, quantity: 10 }
//	flow:
//	  - invoke: update_cart
//	    args: { session_id: S1, items: [...] }
//	    expect:
//	      case: ok
//	      result: { gross_amount: 30000 }
//	assertions:
//	  - type: last_published
//	    key: session:S1
//	    expect: { status: OPEN }
//	  - type: final_state
//	    table: sessions
//	    where: { id: S1 }
//	    expect: { version: 2 }
//
// Operations: create_session, update_cart, begin_payment, close_session,
// expire_payments, advance_clock, submit_order, approve_order, reject_order
// and restock. A step without expect must complete with case "ok"; error
// completions carry the domain error code as their case.
//
// # Assertion Types
//
//   - trace_contains: an invocation of the action with matching args exists
//   - trace_order: first invocations appear in the given order
//   - trace_count: the action was invoked exactly N times
//   - last_published: the latest value at a channel key matches
//   - final_state: a sessions, items or orders row matches
//
// # Determinism
//
// Every scenario starts at Epoch on a clock that only moves through
// advance_clock. Generated ids are sequential. Traces are rendered as
// canonical JSON (sorted keys, NFC strings, no floats) so golden files are
// byte-stable.
package harness
