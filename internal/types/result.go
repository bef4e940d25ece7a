package types

import "fmt"

type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultCrash   ResultKind = "crash"
	ResultTimeout ResultKind = "timeout"
)

// ExecutionResult is the outcome of one target invocation.
//
// Two crashes are the same crash only when their descriptions are equal byte for byte.
type ExecutionResult struct {
	Kind        ResultKind `json:"kind"`
	Description string     `json:"description,omitempty"`
}

func Success() ExecutionResult { return ExecutionResult{Kind: ResultSuccess} }
func Timeout() ExecutionResult { return ExecutionResult{Kind: ResultTimeout} }

func Crash(description string) ExecutionResult {
	return ExecutionResult{Kind: ResultCrash, Description: description}
}

func (r ExecutionResult) IsSuccess() bool { return r.Kind == ResultSuccess }
func (r ExecutionResult) IsCrash() bool   { return r.Kind == ResultCrash }
func (r ExecutionResult) IsTimeout() bool { return r.Kind == ResultTimeout }

func (r ExecutionResult) String() string {
	if r.Kind == ResultCrash {
		return fmt.Sprintf("crash(%s)", r.Description)
	}
	return string(r.Kind)
}
