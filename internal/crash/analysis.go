package crash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Exploitability string

const (
	ExploitabilityNone      Exploitability = "none"
	ExploitabilityPotential Exploitability = "potential"
	ExploitabilityProbable  Exploitability = "probable"
	ExploitabilityProven    Exploitability = "proven"
)

type Info struct {
	Hash           string         `json:"crash_hash"`
	Input          []byte         `json:"input"`
	StackTrace     string         `json:"stack_trace,omitempty"`
	Severity       Severity       `json:"severity"`
	Exploitability Exploitability `json:"exploitability"`
}

// Analysis classifies crashes by their description; the first input seen for a hash is kept
type Analysis struct {
	mu      sync.Mutex
	crashes map[string]*Info
}

func NewAnalysis() *Analysis {
	return &Analysis{crashes: make(map[string]*Info)}
}

func Hash(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

func ClassifySeverity(description string) Severity {
	switch {
	case strings.Contains(description, "buffer overflow"):
		return SeverityCritical
	case strings.Contains(description, "null pointer"):
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func ClassifyExploitability(description string) Exploitability {
	switch {
	case strings.Contains(description, "control over EIP"):
		return ExploitabilityProven
	case strings.Contains(description, "heap corruption"):
		return ExploitabilityProbable
	default:
		return ExploitabilityPotential
	}
}

// Analyze records the crash and returns its classification
func (a *Analysis) Analyze(input []byte, description string) Info {
	hash := Hash(description)

	a.mu.Lock()
	defer a.mu.Unlock()
	if info, ok := a.crashes[hash]; ok {
		return *info
	}
	info := &Info{
		Hash:           hash,
		Input:          slices.Clone(input),
		StackTrace:     description,
		Severity:       ClassifySeverity(description),
		Exploitability: ClassifyExploitability(description),
	}
	a.crashes[hash] = info
	return *info
}

func (a *Analysis) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.crashes)
}

// Crashes returns the analysed crashes ordered by hash
func (a *Analysis) Crashes() []Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Info, 0, len(a.crashes))
	for _, hash := range slices.Sorted(maps.Keys(a.crashes)) {
		out = append(out, *a.crashes[hash])
	}
	return out
}

type analysisJSON struct {
	Crashes map[string]*Info `json:"crashes"`
}

func (a *Analysis) Save(path string) error {
	a.mu.Lock()
	payload, err := json.MarshalIndent(analysisJSON{a.crashes}, "", "  ")
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode crash analysis: %w", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write crash analysis: %w", err)
	}
	return nil
}

func LoadAnalysis(path string) (*Analysis, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crash analysis: %w", err)
	}
	var raw analysisJSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode crash analysis %s: %w", path, err)
	}
	a := NewAnalysis()
	for hash, info := range raw.Crashes {
		if info != nil {
			a.crashes[hash] = info
		}
	}
	return a, nil
}
