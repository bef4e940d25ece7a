package fuzz

import (
	"context"
	"time"

	"github.com/0xb-s/fuzzer/internal/crash"
	"github.com/0xb-s/fuzzer/internal/target"
	"github.com/0xb-s/fuzzer/internal/types"
)

// Reproduce runs t once on input. It returns the crash outcome, or a ReproductionFailed error
// when the target succeeds or times out.
func Reproduce(ctx context.Context, t *target.Target, input []byte, timeout time.Duration) (types.ExecutionResult, error) {
	result := ExecuteTarget(ctx, t, input, timeout)
	switch {
	case result.IsCrash():
		return result, nil
	case result.IsTimeout():
		return result, types.ReproductionFailed("Target timed out")
	default:
		return result, types.ReproductionFailed("No crash occurred")
	}
}

// ReproduceFile replays a crash artifact and reports whether the same description came back
func ReproduceFile(ctx context.Context, t *target.Target, path string, timeout time.Duration) (types.ExecutionResult, bool, error) {
	input, description, err := crash.ReadArtifact(path)
	if err != nil {
		return types.ExecutionResult{}, false, err
	}
	result, err := Reproduce(ctx, t, input, timeout)
	if err != nil {
		return result, false, err
	}
	return result, result.Description == description, nil
}
