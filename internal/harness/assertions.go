package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/tillsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Type == EventInvoke {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Action, event.Args)
			}
		}
	}

	return buf.String()
}

// AssertionContext provides state access for final_state assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertLastPublished:
			err = assertLastPublished(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

// assertTraceContains checks that some invocation of the action has args
// matching the expected subset.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type != EventInvoke || event.Action != assertion.Action {
			continue
		}
		if ok, _ := matchSubset(event.Args, assertion.Args); ok {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first invocation of each action appears
// in the given order. Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int64)
	for _, event := range trace {
		if event.Type == EventInvoke {
			if _, seen := positions[event.Action]; !seen {
				positions[event.Action] = event.Seq
			}
		}
	}

	for _, action := range assertion.Actions {
		if _, ok := positions[action]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the action was invoked exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvoke && event.Action == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertLastPublished checks the latest value published at a key, which is
// what a subscriber joining after the flow would receive.
func assertLastPublished(trace []TraceEvent, assertion Assertion) error {
	var last *TraceEvent
	for i := range trace {
		if trace[i].Type == EventPublish && trace[i].Key == assertion.Key {
			last = &trace[i]
		}
	}
	if last == nil {
		return &AssertionError{
			Type:     AssertLastPublished,
			Expected: fmt.Sprintf("a value published at %s", assertion.Key),
			Actual:   "nothing published",
			Trace:    trace,
		}
	}
	if ok, detail := matchSubset(last.Payload, assertion.Expect); !ok {
		return &AssertionError{
			Type:     AssertLastPublished,
			Expected: fmt.Sprintf("%s matching %v", assertion.Key, assertion.Expect),
			Actual:   detail,
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads one session, item or order through the store and
// checks the expected fields.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	row, err := stateRow(ctx, st, assertion.Table, assertion.Where["id"])
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhere(assertion.Where)),
			Actual:   err.Error(),
		}
	}
	if ok, detail := matchSubset(row, assertion.Expect); !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s where %s matching %v", assertion.Table, formatWhere(assertion.Where), assertion.Expect),
			Actual:   detail,
		}
	}
	return nil
}

func stateRow(ctx context.Context, st *store.Store, table string, id any) (any, error) {
	switch table {
	case "sessions":
		sess, err := st.GetSession(ctx, fmt.Sprint(id))
		if err != nil {
			return nil, err
		}
		return Canonicalize(map[string]any{
			"id":           sess.ID,
			"operator_id":  sess.OperatorID,
			"status":       string(sess.Status),
			"cart":         sess.Cart,
			"gross_amount": sess.GrossAmount,
			"qr_payload":   sess.QRPayload,
			"version":      sess.Version,
		})
	case "items":
		cid, err := Canonicalize(id)
		if err != nil {
			return nil, err
		}
		itemID, ok := cid.(int64)
		if !ok {
			return nil, fmt.Errorf("item id must be an integer, got %v", id)
		}
		item, err := st.GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		return Canonicalize(map[string]any{
			"id":                 item.ID,
			"name":               item.Name,
			"unit_price":         item.UnitPrice,
			"quantity_available": item.QuantityAvailable,
			"availability":       string(item.Availability),
			"version":            item.Version,
		})
	case "orders":
		order, err := st.GetOrder(ctx, fmt.Sprint(id))
		if err != nil {
			return nil, err
		}
		return Canonicalize(map[string]any{
			"id":         order.ID,
			"buyer_id":   order.BuyerID,
			"status":     string(order.Status),
			"decided_by": order.DecidedBy,
			"total":      order.Total(),
		})
	}
	return nil, fmt.Errorf("unknown table %q", table)
}

// matchSubset reports whether actual contains expected: maps match on the
// expected keys only, slices element-wise, scalars by equality.
func matchSubset(actual any, expected any) (bool, string) {
	want, err := Canonicalize(expected)
	if err != nil {
		return false, fmt.Sprintf("invalid expectation: %v", err)
	}
	got, err := Canonicalize(actual)
	if err != nil {
		return false, fmt.Sprintf("invalid actual value: %v", err)
	}
	return subset(got, want, "")
}

func subset(got, want any, path string) (bool, string) {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false, fmt.Sprintf("%s: expected object, got %v", pathOrRoot(path), got)
		}
		keys := make([]string, 0, len(w))
		for k := range w {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			gv, present := g[k]
			if !present {
				return false, fmt.Sprintf("%s.%s: missing", pathOrRoot(path), k)
			}
			if ok, detail := subset(gv, w[k], path+"."+k); !ok {
				return false, detail
			}
		}
		return true, ""
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false, fmt.Sprintf("%s: expected %v, got %v", pathOrRoot(path), w, got)
		}
		for i := range w {
			if ok, detail := subset(g[i], w[i], fmt.Sprintf("%s[%d]", path, i)); !ok {
				return false, detail
			}
		}
		return true, ""
	default:
		if !reflect.DeepEqual(got, want) {
			return false, fmt.Sprintf("%s: expected %v, got %v", pathOrRoot(path), want, got)
		}
		return true, ""
	}
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return "$" + path
}

func formatWhere(where map[string]any) string {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, where[k])
	}
	return strings.Join(parts, ", ")
}
