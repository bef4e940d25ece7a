package types

import (
	"fmt"

	"github.com/0xb-s/fuzzer/internal/coverage"
)

// CrashMessage carries one crashing input to the crash manager
type CrashMessage struct {
	Target      string
	Input       []byte
	Description string
}

type MessageType string

const (
	MessageTask   MessageType = "task"
	MessageResult MessageType = "result"
)

// FuzzTask is sent by the coordinator to a worker
type FuzzTask struct {
	Input []byte `json:"input"`
	// Trace is the coordinator's exported span context; empty without telemetry
	Trace string `json:"trace,omitempty"`
}

// FuzzResult is sent back by a worker after executing a task
type FuzzResult struct {
	Input    []byte          `json:"input"`
	Result   ExecutionResult `json:"result"`
	Coverage *coverage.Data  `json:"coverage,omitempty"`
}

// Message is the tagged union exchanged over a worker connection.
// Exactly one of Task and Result is set, matching Type.
type Message struct {
	Type   MessageType `json:"type"`
	Task   *FuzzTask   `json:"task,omitempty"`
	Result *FuzzResult `json:"result,omitempty"`
}

func NewTaskMessage(input []byte) *Message {
	return &Message{Type: MessageTask, Task: &FuzzTask{Input: input}}
}

func NewResultMessage(result *FuzzResult) *Message {
	return &Message{Type: MessageResult, Result: result}
}

// Validate checks that the payload matches the declared type
func (m *Message) Validate() error {
	switch m.Type {
	case MessageTask:
		if m.Task == nil || m.Result != nil {
			return fmt.Errorf("malformed task message")
		}
	case MessageResult:
		if m.Result == nil || m.Task != nil {
			return fmt.Errorf("malformed result message")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

type WorkerStatus int

const (
	WorkerIdle WorkerStatus = iota
	WorkerBusy
	WorkerOffline
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// WorkerInfo describes a remote worker. Status is advisory only.
type WorkerInfo struct {
	Address string
	Status  WorkerStatus
}
