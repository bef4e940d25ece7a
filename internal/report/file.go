package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/0xb-s/fuzzer/internal/types"
	"go.uber.org/zap"
)

const (
	JSONReportName = "report.json"
	HTMLReportName = "report.html"
)

var htmlReport = template.Must(template.New("report").Parse(`<html><head><title>Fuzzing Report</title></head><body>
<h1>Fuzzing Statistics</h1>
<p>Session: {{.SessionID}} (seed {{.Seed}}), stopped: {{.StopReason}}</p>
<p>Total Runs: {{.Stats.TotalRuns}}</p>
<p>Successful Runs: {{.Stats.SuccessfulRuns}}</p>
<p>Errors: {{.Stats.Errors}}</p>
<p>Timeouts: {{.Stats.Timeouts}}</p>
<p>Unique Crashes: {{len .Stats.UniqueCrashes}}</p>
<p>Total Crashes: {{.Stats.TotalCrashes}}</p>
<p>Inputs Tested: {{.Stats.InputsTested}}</p>
<h2>Coverage Data</h2>
<p>Blocks Covered: {{.BlocksCovered}}</p>
{{- if .Crashes}}
<h2>Crashes</h2>
<table>
<tr><th>hash</th><th>severity</th><th>exploitability</th><th>description</th></tr>
{{- range .Crashes}}
<tr><td>{{.Hash}}</td><td>{{.Severity}}</td><td>{{.Exploitability}}</td><td>{{.StackTrace}}</td></tr>
{{- end}}
</table>
{{- end}}
</body></html>
`))

// FileReporter appends stats lines to a log file and writes json and html summaries into a directory.
// Either destination may be empty.
type FileReporter struct {
	logger    *zap.Logger
	logFile   string
	reportDir string
	mu        sync.Mutex
}

func NewFileReporter(logFile, reportDir string, logger *zap.Logger) *FileReporter {
	return &FileReporter{logger: logger, logFile: logFile, reportDir: reportDir}
}

func (r *FileReporter) ReportStats(s types.StatsSnapshot) {
	if r.logFile == "" {
		return
	}
	if err := r.appendLine(s); err != nil {
		r.logger.Error("failed to append stats", zap.String("file", r.logFile), zap.Error(err))
	}
}

func (r *FileReporter) appendLine(s types.StatsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "[%s] Stats: total_runs=%d successful_runs=%d errors=%d timeouts=%d unique_crashes=%d total_crashes=%d inputs_tested=%d covered_blocks=%d elapsed=%s\n",
		time.Now().Format(time.DateTime),
		s.TotalRuns, s.SuccessfulRuns, s.Errors, s.Timeouts, len(s.UniqueCrashes),
		s.TotalCrashes, s.InputsTested, s.CoveredBlocks, s.ElapsedTime)
	return err
}

type jsonCoverage struct {
	BlocksCovered  int               `json:"blocks_covered"`
	BlockHitCounts map[uint64]uint64 `json:"block_hit_counts"`
}

type jsonReport struct {
	SessionID      string            `json:"session_id"`
	Seed           uint64            `json:"seed"`
	StopReason     string            `json:"stop_reason"`
	Targets        []string          `json:"targets"`
	TotalRuns      uint64            `json:"total_runs"`
	SuccessfulRuns uint64            `json:"successful_runs"`
	Errors         uint64            `json:"errors"`
	Timeouts       uint64            `json:"timeouts"`
	UniqueCrashes  int               `json:"unique_crashes"`
	CrashCounts    map[string]uint64 `json:"crash_counts"`
	TotalCrashes   uint64            `json:"total_crashes"`
	Retries        uint64            `json:"retries"`
	InputsTested   uint64            `json:"inputs_tested"`
	ElapsedTime    uint64            `json:"elapsed_time"`
	Coverage       jsonCoverage      `json:"coverage"`
}

func (r *FileReporter) Summary(summary Summary) error {
	if r.logFile != "" {
		if err := r.appendLine(summary.Stats); err != nil {
			return fmt.Errorf("failed to append final stats: %w", err)
		}
	}
	if r.reportDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.reportDir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	hits := map[uint64]uint64{}
	blocks := 0
	if summary.Coverage != nil {
		for _, id := range summary.Coverage.Covered() {
			hits[id] = summary.Coverage.HitCount(id)
		}
		blocks = summary.Coverage.Len()
	}

	s := summary.Stats
	payload, err := json.MarshalIndent(jsonReport{
		summary.SessionID,
		summary.Seed,
		summary.StopReason,
		summary.Targets,
		s.TotalRuns,
		s.SuccessfulRuns,
		s.Errors,
		s.Timeouts,
		len(s.UniqueCrashes),
		s.UniqueCrashes,
		s.TotalCrashes,
		s.Retries,
		s.InputsTested,
		uint64(s.ElapsedTime.Seconds()),
		jsonCoverage{blocks, hits},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode json report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.reportDir, JSONReportName), payload, 0644); err != nil {
		return fmt.Errorf("failed to write json report: %w", err)
	}

	f, err := os.Create(filepath.Join(r.reportDir, HTMLReportName))
	if err != nil {
		return fmt.Errorf("failed to create html report: %w", err)
	}
	defer f.Close()
	data := struct {
		Summary
		BlocksCovered int
	}{summary, blocks}
	if err := htmlReport.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render html report: %w", err)
	}

	r.logger.Info("reports written", zap.String("dir", r.reportDir))
	return nil
}
