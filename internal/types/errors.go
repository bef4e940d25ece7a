package types

import "fmt"

type ErrorKind int

const (
	KindInputGeneration ErrorKind = iota
	KindMutation
	KindExecution
	KindTimeout
	KindCustom
	KindReproductionFailed
)

// FuzzerError is the error taxonomy shared by the engine and its collaborators
type FuzzerError struct {
	Kind ErrorKind
	Msg  string
}

var (
	ErrInputGeneration    = &FuzzerError{Kind: KindInputGeneration}
	ErrMutation           = &FuzzerError{Kind: KindMutation}
	ErrExecution          = &FuzzerError{Kind: KindExecution}
	ErrTimeout            = &FuzzerError{Kind: KindTimeout}
	ErrCustom             = &FuzzerError{Kind: KindCustom}
	ErrReproductionFailed = &FuzzerError{Kind: KindReproductionFailed}
)

func (e *FuzzerError) Error() string {
	switch e.Kind {
	case KindInputGeneration:
		return fmt.Sprintf("Input generation error: %s", e.Msg)
	case KindMutation:
		return fmt.Sprintf("Mutation error: %s", e.Msg)
	case KindExecution:
		return fmt.Sprintf("Execution error: %s", e.Msg)
	case KindTimeout:
		return "Timeout occurred"
	case KindCustom:
		return fmt.Sprintf("Custom error: %s", e.Msg)
	case KindReproductionFailed:
		return fmt.Sprintf("Reproduction failed: %s", e.Msg)
	default:
		return e.Msg
	}
}

// Is matches on kind so errors.Is(err, ErrTimeout) works for any message
func (e *FuzzerError) Is(target error) bool {
	t, ok := target.(*FuzzerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func InputGenerationError(msg string) error { return &FuzzerError{KindInputGeneration, msg} }
func MutationError(msg string) error        { return &FuzzerError{KindMutation, msg} }
func ExecutionError(msg string) error       { return &FuzzerError{KindExecution, msg} }
func CustomError(msg string) error          { return &FuzzerError{KindCustom, msg} }
func ReproductionFailed(msg string) error   { return &FuzzerError{KindReproductionFailed, msg} }
