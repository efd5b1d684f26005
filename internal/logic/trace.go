package logic

// TraceStep records the outcome of one admission stage.
type TraceStep struct {
	Stage   string            `json:"stage"`
	Outcome string            `json:"outcome"`
	Details map[string]string `json:"details,omitempty"`
}

// DecisionTrace captures the ordered stages an admission decision went through.
// It is only populated when debug tracing is enabled.
type DecisionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry. Calls on a nil trace are ignored.
func (t *DecisionTrace) AddStep(stage, outcome string) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, TraceStep{Stage: stage, Outcome: outcome})
}

// AddStepWithDetails appends a trace entry with additional key/value details.
func (t *DecisionTrace) AddStepWithDetails(stage, outcome string, details map[string]string) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, TraceStep{Stage: stage, Outcome: outcome, Details: details})
}
