package flowrun

// OutcomeKind tags the result of one node execution.
type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeTerminate
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeTerminate:
		return "terminate"
	case OutcomeFail:
		return "fail"
	}
	return "unknown"
}

// ActivatedHandleKey is the output key a branching node uses to name the
// source handle whose edges should be followed.
const ActivatedHandleKey = "activatedHandle"

const (
	DisabledMarker   = "[DISABLED]"
	TerminatedMarker = "[TERMINATED]"
)

// Outcome is what a node executor hands back to the scheduler.
type Outcome struct {
	Kind   OutcomeKind
	Output any
	Err    error
}

// Continue records output and lets the run proceed.
func Continue(output any) Outcome {
	return Outcome{Kind: OutcomeContinue, Output: output}
}

// Terminate ends the whole run gracefully. A nil output becomes an empty object.
func Terminate(output any) Outcome {
	return Outcome{Kind: OutcomeTerminate, Output: output}
}

// Fail stops the run with err.
func Fail(err error) Outcome {
	return Outcome{Kind: OutcomeFail, Err: err}
}

// ActivatedHandle extracts the branch marker from a node output.
func ActivatedHandle(output any) (string, bool) {
	m, ok := output.(map[string]any)
	if !ok {
		return "", false
	}
	h, ok := m[ActivatedHandleKey].(string)
	if !ok || h == "" {
		return "", false
	}
	return h, true
}
