package harness

// Trace event types.
const (
	EventInvoke   = "invoke"
	EventComplete = "complete"
	EventPublish  = "publish"
)

// TraceEvent is one entry of a scenario trace: an invocation, its
// completion, or a value published on the realtime channel in between.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`

	// Action and Args describe an invocation.
	Action string `json:"action,omitempty"`
	Args   any    `json:"args,omitempty"`

	// Case and Result describe a completion. Case is "ok" or an error code.
	Case   string `json:"case,omitempty"`
	Result any    `json:"result,omitempty"`

	// Key, Version and Payload describe a publish.
	Key     string `json:"key,omitempty"`
	Version int64  `json:"version,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace)) + 1
}

// AddInvocation appends an invocation to the trace.
func (r *Result) AddInvocation(action string, args any) {
	r.Trace = append(r.Trace, TraceEvent{Seq: r.nextSeq(), Type: EventInvoke, Action: action, Args: args})
}

// AddCompletion appends a completion to the trace.
func (r *Result) AddCompletion(outputCase string, result any) {
	r.Trace = append(r.Trace, TraceEvent{Seq: r.nextSeq(), Type: EventComplete, Case: outputCase, Result: result})
}

// AddPublish appends a channel publish to the trace.
func (r *Result) AddPublish(key string, version int64, payload any) {
	r.Trace = append(r.Trace, TraceEvent{Seq: r.nextSeq(), Type: EventPublish, Key: key, Version: version, Payload: payload})
}
