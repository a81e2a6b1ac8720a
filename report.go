package flowrun

import "errors"

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// NodeReport is one entry of the execution log.
type NodeReport struct {
	NodeID string         `json:"nodeId"`
	Type   string         `json:"type"`
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output"`
}

// ReportError describes why a run stopped.
type ReportError struct {
	NodeID  string    `json:"nodeId,omitempty"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// ExecutionReport is the result of one scheduler invocation.
type ExecutionReport struct {
	RunID         string       `json:"runId,omitempty"`
	ExecutedNodes []NodeReport `json:"executedNodes"`
	Error         *ReportError `json:"error,omitempty"`
	LastOutput    any          `json:"lastOutput,omitempty"`
	Status        RunStatus    `json:"status"`
}

// ErrorReport builds a report that carries only err.
func ErrorReport(runID string, err error) ExecutionReport {
	r := ExecutionReport{RunID: runID, ExecutedNodes: []NodeReport{}}
	r.Fail(err)
	return r
}

// Fail records err on the report and sets the matching status.
func (r *ExecutionReport) Fail(err error) {
	re := &ReportError{Message: err.Error(), Kind: KindOf(err)}
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		re.NodeID = nodeErr.NodeID
		re.Message = nodeErr.Err.Error()
	}
	r.Error = re
	if re.Kind == KindAborted {
		r.Status = StatusAborted
	} else {
		r.Status = StatusFailed
	}
}

// IsAborted reports whether the run ended because of a cancellation request.
func (r ExecutionReport) IsAborted() bool {
	if r.Status == StatusAborted {
		return true
	}
	return r.Error != nil && IsAbortMessage(r.Error.Message)
}

// Succeeded reports whether the run finished without an error.
func (r ExecutionReport) Succeeded() bool {
	return r.Error == nil
}
