package report

import (
	"fmt"
	"io"

	"github.com/0xb-s/fuzzer/internal/types"
	"github.com/olekukonko/tablewriter"
)

// TableReporter renders stats as console tables
type TableReporter struct {
	w io.Writer
}

func NewTableReporter(w io.Writer) *TableReporter {
	return &TableReporter{w}
}

func (r *TableReporter) ReportStats(s types.StatsSnapshot) {
	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{"runs", "ok", "crashes", "unique", "timeouts", "inputs", "blocks", "exec/s"})
	table.Append([]string{
		fmt.Sprintf("%d", s.TotalRuns),
		fmt.Sprintf("%d", s.SuccessfulRuns),
		fmt.Sprintf("%d", s.TotalCrashes),
		fmt.Sprintf("%d", len(s.UniqueCrashes)),
		fmt.Sprintf("%d", s.Timeouts),
		fmt.Sprintf("%d", s.InputsTested),
		fmt.Sprintf("%d", s.CoveredBlocks),
		fmt.Sprintf("%.1f", s.ExecsPerSecond()),
	})
	table.Render()
}

func (r *TableReporter) Summary(summary Summary) error {
	fmt.Fprintf(r.w, "session %s (seed %d) stopped: %s\n", summary.SessionID, summary.Seed, summary.StopReason)
	r.ReportStats(summary.Stats)

	if len(summary.Stats.UniqueCrashes) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{"description", "count"})
	table.SetAutoWrapText(false)
	for _, desc := range summary.Stats.CrashDescriptions() {
		table.Append([]string{desc, fmt.Sprintf("%d", summary.Stats.UniqueCrashes[desc])})
	}
	table.Render()
	return nil
}
