package crash

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/0xb-s/fuzzer/internal/types"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Store(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return s.err
}

func TestSaveWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, zap.NewNop())
	defer m.Close()

	path, err := m.Save(context.Background(), types.CrashMessage{
		Target:      "parser",
		Input:       []byte{0x00, 0x01, 'A'},
		Description: "index out of range",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !regexp.MustCompile(`^crash_[0-9a-f-]{36}\.bin$`).MatchString(filepath.Base(path)) {
		t.Errorf("unexpected artifact name %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "\x00\x01A\nindex out of range" {
		t.Errorf("artifact content = %q", content)
	}
}

func TestDuplicateCrashesProduceDuplicateFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, zap.NewNop())
	defer m.Close()

	msg := types.CrashMessage{Target: "t", Input: []byte("x"), Description: "same"}
	for range 3 {
		if _, err := m.Save(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("artifacts = %d, want 3", len(entries))
	}
	if m.Analysis().Len() != 1 {
		t.Errorf("analysis should hold one crash per description, got %d", m.Analysis().Len())
	}
}

func TestSaveWithoutDirectory(t *testing.T) {
	m := New("", zap.NewNop())
	defer m.Close()
	path, err := m.Save(context.Background(), types.CrashMessage{Description: "x"})
	if err != nil || path != "" {
		t.Errorf("Save without directory = %q, %v", path, err)
	}
}

func TestSinksReceiveRecordsOnClose(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("db down")}
	m := New(t.TempDir(), zap.NewNop(), ok, failing)

	for _, desc := range []string{"a", "b", "c"} {
		if _, err := m.Save(context.Background(), types.CrashMessage{Target: "t", Description: desc}); err != nil {
			t.Fatal(err)
		}
	}
	m.Close()
	m.Close() // idempotent

	if len(ok.records) != 3 || len(failing.records) != 3 {
		t.Fatalf("records = %d/%d, want 3/3", len(ok.records), len(failing.records))
	}
	r := ok.records[0]
	if r.SessionID != m.SessionID() || r.Info.Hash != Hash("a") || r.Path == "" {
		t.Errorf("unexpected record %+v", r)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		desc    string
		sev     Severity
		exploit Exploitability
	}{
		{"stack buffer overflow with control over EIP", SeverityCritical, ExploitabilityProven},
		{"null pointer dereference", SeverityHigh, ExploitabilityPotential},
		{"heap corruption detected", SeverityMedium, ExploitabilityProbable},
		{"assertion failed", SeverityMedium, ExploitabilityPotential},
	}
	a := NewAnalysis()
	for _, c := range cases {
		info := a.Analyze([]byte("in"), c.desc)
		if info.Severity != c.sev || info.Exploitability != c.exploit {
			t.Errorf("%q: got %s/%s, want %s/%s", c.desc, info.Severity, info.Exploitability, c.sev, c.exploit)
		}
	}
	if len(Hash("x")) != 64 || Hash("x") == Hash("y") {
		t.Errorf("hash must be hex sha256")
	}
}

func TestAnalysisKeepsFirstInput(t *testing.T) {
	a := NewAnalysis()
	a.Analyze([]byte("first"), "boom")
	info := a.Analyze([]byte("second"), "boom")
	if string(info.Input) != "first" {
		t.Errorf("input = %q, want first", info.Input)
	}
}

func TestAnalysisSaveLoad(t *testing.T) {
	a := NewAnalysis()
	a.Analyze([]byte{1, 2}, "null pointer")
	a.Analyze([]byte{3}, "buffer overflow")

	path := filepath.Join(t.TempDir(), "analysis.json")
	if err := a.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadAnalysis(path)
	if err != nil {
		t.Fatalf("LoadAnalysis: %v", err)
	}
	got, want := loaded.Crashes(), a.Crashes()
	if len(got) != 2 {
		t.Fatalf("loaded %d crashes", len(got))
	}
	for i := range got {
		if got[i].Hash != want[i].Hash || got[i].Severity != want[i].Severity || string(got[i].Input) != string(want[i].Input) {
			t.Errorf("crash %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
}

func TestReadArtifactRoundTrip(t *testing.T) {
	m := New(t.TempDir(), zap.NewNop())
	defer m.Close()

	input := []byte("line1\nline2")
	path, err := m.Save(context.Background(), types.CrashMessage{Target: "t", Input: input, Description: "boom"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, desc, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(got) != string(input) || desc != "boom" {
		t.Errorf("ReadArtifact = %q, %q", got, desc)
	}

	bare := filepath.Join(t.TempDir(), "bare.bin")
	if err := os.WriteFile(bare, []byte("no newline"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ReadArtifact(bare); err == nil {
		t.Errorf("expected error for a file without a description line")
	}
}

func TestMultiLineDescriptionRoundTrip(t *testing.T) {
	m := New(t.TempDir(), zap.NewNop())
	defer m.Close()

	tests := []string{
		"exit status 1: ==1==ERROR: AddressSanitizer: heap-buffer-overflow\nSUMMARY: AddressSanitizer: heap-buffer-overflow",
		"trailing newline\n",
		`literal \n and \\ stay put`,
		"\n\n",
	}
	for _, desc := range tests {
		path, err := m.Save(context.Background(), types.CrashMessage{Target: "t", Input: []byte("AAAA"), Description: desc})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, gotDesc, err := ReadArtifact(path)
		if err != nil {
			t.Fatalf("ReadArtifact: %v", err)
		}
		if string(got) != "AAAA" || gotDesc != desc {
			t.Errorf("ReadArtifact = %q, %q; want %q, %q", got, gotDesc, "AAAA", desc)
		}
	}
}
