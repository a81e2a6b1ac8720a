package flowrun

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAborted         = errors.New("execution aborted by user")
	ErrDepthLimit      = errors.New("maximum sub-flow depth exceeded")
	ErrCycle           = errors.New("circular sub-flow execution detected")
	ErrValidation      = errors.New("flow validation failed")
	ErrFlowNotFound    = errors.New("flow not found")
	ErrUnknownNodeType = errors.New("no executor registered for node type")
	ErrUnsupported     = errors.New("capability not supported by host")
)

// ErrorKind classifies a report error.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindDepthLimit ErrorKind = "depth_limit"
	KindCycle      ErrorKind = "cycle"
	KindNode       ErrorKind = "node_execution"
	KindAborted    ErrorKind = "aborted"
	KindNotFound   ErrorKind = "not_found"
)

// NodeExecutionError wraps a failure raised by a node executor.
type NodeExecutionError struct {
	NodeID string
	Type   string
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s): %v", e.NodeID, e.Type, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// SubFlowError carries a nested run's report error up to the calling node.
// It unwraps to the sentinel matching Kind so the caller classifies the
// failure the same way the child did.
type SubFlowError struct {
	FlowID  string
	NodeID  string
	Kind    ErrorKind
	Message string
}

// NewSubFlowError returns nil when report succeeded.
func NewSubFlowError(flowID string, report ExecutionReport) error {
	if report.Error == nil {
		return nil
	}
	return &SubFlowError{
		FlowID:  flowID,
		NodeID:  report.Error.NodeID,
		Kind:    report.Error.Kind,
		Message: report.Error.Message,
	}
}

func (e *SubFlowError) Error() string {
	return e.Message
}

func (e *SubFlowError) Unwrap() error {
	switch e.Kind {
	case KindAborted:
		return ErrAborted
	case KindDepthLimit:
		return ErrDepthLimit
	case KindCycle:
		return ErrCycle
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrFlowNotFound
	}
	return nil
}

// IsAbortMessage reports whether msg describes a user cancellation. Callers
// outside Go rely on the "aborted" substring, so it stays the contract.
func IsAbortMessage(msg string) bool {
	return strings.Contains(msg, "aborted")
}

// KindOf maps an error onto the report error classification.
func KindOf(err error) ErrorKind {
	var nodeErr *NodeExecutionError
	switch {
	case errors.Is(err, ErrAborted):
		return KindAborted
	case errors.Is(err, ErrDepthLimit):
		return KindDepthLimit
	case errors.Is(err, ErrCycle):
		return KindCycle
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrFlowNotFound):
		return KindNotFound
	case errors.As(err, &nodeErr):
		return KindNode
	}
	return KindNode
}
