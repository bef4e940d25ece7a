package telemetry

type ActionCategory int

const (
	Fuzzing ActionCategory = iota
	InputGeneration
	Testing
	DynamicAnalysis
)

func (a ActionCategory) String() string {
	switch a {
	case Fuzzing:
		return "fuzzing"
	case InputGeneration:
		return "input_generation"
	case Testing:
		return "testing"
	case DynamicAnalysis:
		return "dynamic_analysis"
	default:
		return "unknown"
	}
}
