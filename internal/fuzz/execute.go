package fuzz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
)

type panicError struct {
	value any
}

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// ExecuteTarget runs t once against a private copy of input and races it against timeout.
// A target that ignores ctx keeps running in the background after a Timeout is reported.
func ExecuteTarget(ctx context.Context, t *target.Target, input []byte, timeout time.Duration) types.ExecutionResult {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	data := bytes.Clone(input)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- panicError{r}
			}
		}()
		done <- t.Execute(execCtx, data)
	}()

	select {
	case err := <-done:
		return classify(execCtx, err)
	case <-execCtx.Done():
		// prefer an outcome that raced in with the deadline
		select {
		case err := <-done:
			return classify(execCtx, err)
		default:
			return types.Timeout()
		}
	}
}

func classify(execCtx context.Context, err error) types.ExecutionResult {
	if err == nil {
		return types.Success()
	}
	// targets that honour ctx report the deadline back as their error
	if execCtx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return types.Timeout()
	}
	return types.Crash(err.Error())
}
