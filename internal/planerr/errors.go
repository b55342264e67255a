// Package planerr defines the error taxonomy shared by the graph, the passes
// and the optimizer.
//
// Every error type unwraps to one of the sentinels below so callers can
// classify failures with errors.Is without knowing the concrete type:
//
//	if errors.Is(err, planerr.ErrStructural) { ... }
//
// None of these errors are recoverable: each aborts compilation of the
// current plan and carries enough context (operator id, kind, expected vs.
// actual) to localize the fault.
package planerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error checking via errors.Is().
var (
	// ErrStructural indicates a violated graph invariant: a cycle, an
	// operator removed while still connected, a port out of range.
	ErrStructural = errors.New("structural error")

	// ErrType indicates an operator type that violates a kind-specific
	// precondition, or a stored type that disagrees with the computed one.
	ErrType = errors.New("type error")

	// ErrConfiguration indicates an unknown pass, target or operator kind.
	ErrConfiguration = errors.New("configuration error")

	// ErrVerification indicates a post-pass invariant violation caught by
	// the verify pass.
	ErrVerification = errors.New("verification error")
)

// NoOp is the operator id used when an error is not tied to one operator.
const NoOp = -1

// StructuralCode categorizes structural errors.
type StructuralCode string

const (
	// CodeCycle indicates a flow that would close a cycle.
	CodeCycle StructuralCode = "CYCLE"

	// CodeStillConnected indicates removal of an operator that still has
	// incident flows or DAG-level ports.
	CodeStillConnected StructuralCode = "STILL_CONNECTED"

	// CodePortRange indicates a port index outside the operator's arity.
	CodePortRange StructuralCode = "PORT_RANGE"

	// CodeMissingPredecessor indicates an input port with nothing feeding it.
	CodeMissingPredecessor StructuralCode = "MISSING_PREDECESSOR"

	// CodeDuplicate indicates an id, operator or DAG output defined twice.
	CodeDuplicate StructuralCode = "DUPLICATE"

	// CodeNotFound indicates an operator or flow that is not in the graph.
	CodeNotFound StructuralCode = "NOT_FOUND"
)

// StructuralError is raised immediately by the offending graph operation.
type StructuralError struct {
	Code    StructuralCode
	Message string
	OpID    int
	Kind    string
}

func (e *StructuralError) Error() string {
	if e.OpID != NoOp {
		return fmt.Sprintf("%s: %s: %s (op=%d, kind=%s)", ErrStructural, e.Code, e.Message, e.OpID, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", ErrStructural, e.Code, e.Message)
}

func (e *StructuralError) Unwrap() error { return ErrStructural }

// Structural creates a StructuralError that is not tied to an operator.
func Structural(code StructuralCode, format string, args ...any) *StructuralError {
	return &StructuralError{Code: code, Message: fmt.Sprintf(format, args...), OpID: NoOp}
}

// StructuralAt creates a StructuralError for the operator with the given id
// and kind name.
func StructuralAt(code StructuralCode, id int, kind string, format string, args ...any) *StructuralError {
	return &StructuralError{Code: code, Message: fmt.Sprintf(format, args...), OpID: id, Kind: kind}
}

// TypeError reports a type precondition failure or a check-mode mismatch.
type TypeError struct {
	OpID     int
	Kind     string
	Message  string
	Expected string
	Found    string
}

func (e *TypeError) Error() string {
	msg := fmt.Sprintf("%s: %s (op=%d, kind=%s)", ErrType, e.Message, e.OpID, e.Kind)
	if e.Expected != "" || e.Found != "" {
		msg += fmt.Sprintf(": expected %s, found %s", e.Expected, e.Found)
	}
	return msg
}

func (e *TypeError) Unwrap() error { return ErrType }

// ConfigurationError reports an unusable configuration value or wire input.
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Key, e.Message)
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Configuration creates a ConfigurationError for key.
func Configuration(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// VerificationError names the check that failed on an operator.
type VerificationError struct {
	OpID     int
	Kind     string
	Check    string
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s (op=%d, kind=%s): expected %s, actual %s",
		ErrVerification, e.Check, e.OpID, e.Kind, e.Expected, e.Actual)
}

func (e *VerificationError) Unwrap() error { return ErrVerification }
