package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/auditagent/internal/session"
)

// Stats holds aggregate statistics for a session.
type Stats struct {
	TotalDurationMs int64
	Attempts        int

	// Per-stage durations of the last execution of each stage
	StageDurations map[string]int64
	StageFailures  int

	LLMCallCount int
	LLMTotalMs   int64
	LLMAvgMs     int64
	LLMErrors    int
	TokensIn     int
	TokensOut    int

	ToolCallCount int
	ToolFailures  int
	ToolsByName   map[string]int

	Findings        int
	FailedExtracts  int
	RepairedExtract int
}

// ComputeStats calculates aggregate statistics from session events.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{
		StageDurations: make(map[string]int64),
		ToolsByName:    make(map[string]int),
	}

	var firstEvent, lastEvent time.Time
	for _, event := range sess.Events {
		if firstEvent.IsZero() || event.Timestamp.Before(firstEvent) {
			firstEvent = event.Timestamp
		}
		if lastEvent.IsZero() || event.Timestamp.After(lastEvent) {
			lastEvent = event.Timestamp
		}

		switch event.Type {
		case session.EventAttemptStart:
			stats.Attempts++

		case session.EventStageEnd:
			stats.StageDurations[event.Stage] = event.DurationMs
			if event.Success != nil && !*event.Success {
				stats.StageFailures++
			}
			if event.Meta != nil {
				stats.Findings += event.Meta.Findings
			}

		case session.EventAssistant:
			stats.LLMCallCount++
			if event.Error != "" {
				stats.LLMErrors++
			}
			if event.Meta != nil {
				stats.LLMTotalMs += event.Meta.LatencyMs
				stats.TokensIn += event.Meta.TokensIn
				stats.TokensOut += event.Meta.TokensOut
			}

		case session.EventToolResult:
			stats.ToolCallCount++
			stats.ToolsByName[event.Tool]++
			if event.Success != nil && !*event.Success {
				stats.ToolFailures++
			}

		case session.EventExtract:
			if event.Meta != nil {
				if event.Meta.Strategy == "none" {
					stats.FailedExtracts++
				}
				if event.Meta.Repaired {
					stats.RepairedExtract++
				}
			}
		}
	}

	if !firstEvent.IsZero() && !lastEvent.IsZero() {
		stats.TotalDurationMs = lastEvent.Sub(firstEvent).Milliseconds()
	}
	if stats.LLMCallCount > 0 {
		stats.LLMAvgMs = stats.LLMTotalMs / int64(stats.LLMCallCount)
	}
	return stats
}

// PrintStats outputs the statistics to the writer.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w, headerStyle.Render("                         SESSION STATISTICS                         "))
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w)

	kv := func(indent, label, value string) {
		fmt.Fprintf(w, "%s%s %s\n", indent, labelStyle.Render(label), valueStyle.Render(value))
	}

	kv("", "Total Duration:", formatDuration(stats.TotalDurationMs))
	kv("", "Attempts:", fmt.Sprintf("%d", stats.Attempts))
	fmt.Fprintln(w)

	if len(stats.StageDurations) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Stage Durations:"))
		var stages []string
		for s := range stats.StageDurations {
			stages = append(stages, s)
		}
		sort.Strings(stages)
		for _, s := range stages {
			kv("  ", s+":", formatDuration(stats.StageDurations[s]))
		}
		if stats.StageFailures > 0 {
			kv("  ", "Failed:", fmt.Sprintf("%d", stats.StageFailures))
		}
		fmt.Fprintln(w)
	}

	if stats.LLMCallCount > 0 {
		fmt.Fprintln(w, headerStyle.Render("Model Calls:"))
		kv("  ", "Calls:", fmt.Sprintf("%d", stats.LLMCallCount))
		kv("  ", "Errors:", fmt.Sprintf("%d", stats.LLMErrors))
		kv("  ", "Average:", formatDuration(stats.LLMAvgMs))
		kv("  ", "Tokens:", fmt.Sprintf("%d in / %d out", stats.TokensIn, stats.TokensOut))
		fmt.Fprintln(w)
	}

	if stats.ToolCallCount > 0 {
		fmt.Fprintln(w, headerStyle.Render("Tool Calls:"))
		kv("  ", "Total:", fmt.Sprintf("%d (%d failed)", stats.ToolCallCount, stats.ToolFailures))
		var names []string
		for n := range stats.ToolsByName {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			kv("    ", n+":", fmt.Sprintf("%d", stats.ToolsByName[n]))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, headerStyle.Render("Results:"))
	kv("  ", "Findings recorded:", fmt.Sprintf("%d", stats.Findings))
	if stats.FailedExtracts > 0 || stats.RepairedExtract > 0 {
		kv("  ", "Extraction:", fmt.Sprintf("%d failed, %d repaired", stats.FailedExtracts, stats.RepairedExtract))
	}
	fmt.Fprintln(w)
}
