package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcus/nacre/internal/graph"
	"github.com/marcus/nacre/internal/metrics"
)

// Error prints an error message to stderr.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// Info prints an informational message to stderr, keeping stdout clean
// for pipeable output.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// RenderMetrics renders a metrics snapshot as a terminal summary.
func RenderMetrics(m *metrics.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Window: %s .. %s\n",
		m.Window.Start.Format("2006-01-02"), m.Window.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "\nLead time   %s\n", renderStats(m.LeadTime))
	fmt.Fprintf(&b, "Cycle time  %s\n", renderStats(m.CycleTime))
	fmt.Fprintf(&b, "\nThroughput  %d closed (%.2f/day)\n", m.ClosedInWindow, m.PerDay)

	for _, day := range m.Throughput {
		fmt.Fprintf(&b, "  %s  %s %d\n", day.Day, bar(day.Resolved), day.Resolved)
	}

	fmt.Fprintf(&b, "\nWIP %d, blocked %d\n", m.WIP, m.Blocked)
	return b.String()
}

func renderStats(s metrics.DurationStats) string {
	if s.Count == 0 {
		return "no samples"
	}
	return fmt.Sprintf("n=%d avg=%s p50=%s p90=%s max=%s",
		s.Count, roundDur(s.Avg), roundDur(s.P50), roundDur(s.P90), roundDur(s.P100))
}

func roundDur(d time.Duration) time.Duration {
	if d >= time.Hour {
		return d.Round(time.Minute)
	}
	return d.Round(time.Second)
}

func bar(n int) string {
	if n > 40 {
		n = 40
	}
	return strings.Repeat("▇", n)
}

// RenderEpics renders epic progress lines.
func RenderEpics(epics []graph.EpicProgress) []string {
	var lines []string
	for _, ep := range epics {
		lines = append(lines, fmt.Sprintf("%-20s %3d/%-3d %5.1f%%  %s",
			ep.Epic.ID, ep.Closed, ep.Total, ep.Percent, ep.Epic.Title))
	}
	return lines
}
