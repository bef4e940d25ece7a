package target

import (
	"context"
	"fmt"
)

// Executable runs one input. A nil error is a clean run, a non-nil error describes the fault.
type Executable interface {
	Execute(ctx context.Context, input []byte) error
}

// SyncFunc is a plain function target; it cannot observe cancellation
type SyncFunc func(input []byte) error

func (f SyncFunc) Execute(_ context.Context, input []byte) error {
	return f(input)
}

// AsyncFunc is a target that may block and should return when ctx is done
type AsyncFunc func(ctx context.Context, input []byte) error

func (f AsyncFunc) Execute(ctx context.Context, input []byte) error {
	return f(ctx, input)
}

// Target is a named Executable. It is immutable, so one value can be shared by every concurrent execution.
type Target struct {
	name string
	exec Executable
}

func New(name string, exec Executable) *Target {
	return &Target{name, exec}
}

func NewSync(name string, fn func(input []byte) error) *Target {
	return New(name, SyncFunc(fn))
}

func NewAsync(name string, fn func(ctx context.Context, input []byte) error) *Target {
	return New(name, AsyncFunc(fn))
}

func (t *Target) Name() string { return t.name }

func (t *Target) Execute(ctx context.Context, input []byte) error {
	return t.exec.Execute(ctx, input)
}

func (t *Target) String() string {
	return fmt.Sprintf("target(%s)", t.name)
}
