package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/auditagent/internal/session"
)

// formatEvent formats a single event for display.
func (r *Replayer) formatEvent(seq int, event *session.Event) {
	ts := timeStyle.Render(event.Timestamp.Format("15:04:05"))
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))

	switch event.Type {
	case session.EventRunStart:
		r.line(seqNum, ts, flowStyle.Render("RUN START")+" "+valueStyle.Render(event.Content))
	case session.EventRunEnd:
		r.line(seqNum, ts, flowStyle.Render("RUN END")+" "+statusStyle(event.Content).Render(event.Content)+" "+
			dimStyle.Render(fmt.Sprintf("(%s)", formatDuration(event.DurationMs))))
		if event.Error != "" {
			r.printError(event.Error)
		}
	case session.EventAttemptStart:
		fmt.Fprintln(r.output)
		r.line(seqNum, ts, titleStyle.Render(fmt.Sprintf("ATTEMPT %d", event.Attempt)))
	case session.EventAttemptEnd:
		if event.Error != "" {
			r.line(seqNum, ts, errorStyle.Render(fmt.Sprintf("ATTEMPT %d ABORTED", event.Attempt)))
			r.printError(event.Error)
		} else {
			r.line(seqNum, ts, successStyle.Render(fmt.Sprintf("ATTEMPT %d DONE", event.Attempt)))
		}
	case session.EventStageStart:
		fmt.Fprintln(r.output)
		r.line(seqNum, ts, stageStyle.Render("STAGE "+event.Stage))
	case session.EventStageEnd:
		r.fmtStageEnd(seqNum, ts, event)
	case session.EventSystem:
		r.line(seqNum, ts, dimStyle.Render("SYSTEM"))
		if r.verbosity >= 2 {
			r.printContent(event.Content)
		}
	case session.EventUser:
		r.line(seqNum, ts, flowStyle.Render("PROMPT"))
		if r.verbosity >= 1 {
			r.printContent(event.Content)
		}
	case session.EventAssistant:
		r.fmtAssistant(seqNum, ts, event)
	case session.EventToolCall:
		r.line(seqNum, ts, toolStyle.Render("TOOL →")+" "+valueStyle.Render(event.Tool)+dimStyle.Render(corrTag(event)))
		r.printArgs(event.Args)
	case session.EventToolResult:
		r.fmtToolResult(seqNum, ts, event)
	case session.EventExtract:
		r.fmtExtract(seqNum, ts, event)
	default:
		r.line(seqNum, ts, dimStyle.Render(event.Type))
	}
}

func (r *Replayer) line(seqNum, ts, content string) {
	fmt.Fprintf(r.output, "%s │ %s │ %s\n", seqNum, ts, content)
}

func (r *Replayer) fmtStageEnd(seqNum, ts string, event *session.Event) {
	status := successStyle.Render("ok")
	if event.Success != nil && !*event.Success {
		status = errorStyle.Render("failed")
	} else if event.Meta != nil && event.Meta.Exhausted {
		status = warnStyle.Render("exhausted")
	}
	r.line(seqNum, ts, stageStyle.Render("STAGE END")+" "+valueStyle.Render(event.Stage)+" "+status+" "+
		dimStyle.Render(fmt.Sprintf("(%s)", formatDuration(event.DurationMs))))
	if m := event.Meta; m != nil {
		fmt.Fprintf(r.output, "%s%s %d  %s %d", gutter,
			labelStyle.Render("iterations:"), m.Iterations,
			labelStyle.Render("tool calls:"), m.ToolCalls)
		if m.Findings > 0 {
			fmt.Fprintf(r.output, "  %s %d", labelStyle.Render("findings:"), m.Findings)
		}
		if len(m.Keys) > 0 {
			fmt.Fprintf(r.output, "  %s %s", labelStyle.Render("wrote:"), strings.Join(m.Keys, ", "))
		}
		fmt.Fprintln(r.output)
	}
	if event.Error != "" {
		r.printError(event.Error)
	}
}

func (r *Replayer) fmtAssistant(seqNum, ts string, event *session.Event) {
	label := "ASSISTANT"
	if event.Meta != nil && event.Meta.ToolCalls > 0 {
		label = fmt.Sprintf("ASSISTANT (%d tool calls)", event.Meta.ToolCalls)
	}
	if event.Error != "" {
		r.line(seqNum, ts, errorStyle.Render("MODEL ERROR"))
		r.printError(event.Error)
		return
	}
	r.line(seqNum, ts, flowStyle.Render(label))
	r.printLLMMeta(event.Meta)
	if r.verbosity >= 1 && event.Content != "" {
		r.printContent(event.Content)
	}
}

func (r *Replayer) fmtToolResult(seqNum, ts string, event *session.Event) {
	status := successStyle.Render("✓")
	if event.Success != nil && !*event.Success {
		status = errorStyle.Render("✗")
	}
	r.line(seqNum, ts, toolStyle.Render("TOOL ←")+" "+valueStyle.Render(event.Tool)+" "+status+" "+
		dimStyle.Render(fmt.Sprintf("(%s)%s", formatDuration(event.DurationMs), corrTag(event))))
	if event.Error != "" {
		r.printError(event.Error)
	}
	if r.verbosity >= 1 && event.Content != "" {
		r.printContent(event.Content)
	}
}

func (r *Replayer) fmtExtract(seqNum, ts string, event *session.Event) {
	if event.Meta == nil {
		r.line(seqNum, ts, extractStyle.Render("EXTRACT"))
		return
	}
	style := extractStyle
	if event.Meta.Strategy == "none" {
		style = warnStyle
	}
	text := "EXTRACT " + event.Meta.Strategy
	if event.Meta.Repaired {
		text += " (repaired)"
	}
	r.line(seqNum, ts, style.Render(text))
	if len(event.Meta.Keys) > 0 {
		fmt.Fprintf(r.output, "%s%s %s\n", gutter, labelStyle.Render("fields:"), strings.Join(event.Meta.Keys, ", "))
	}
}

// printContent prints content with timeline indentation.
func (r *Replayer) printContent(content string) {
	content = truncateContent(content, r.maxContentSize)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(r.output, "%s%s\n", gutter, line)
	}
}

// printArgs prints tool arguments in key order.
func (r *Replayer) printArgs(args map[string]interface{}) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.output, "%s%s %v\n", gutter, labelStyle.Render(k+":"), args[k])
	}
}

func (r *Replayer) printError(err string) {
	fmt.Fprintf(r.output, "%s%s\n", gutter, errorStyle.Render(err))
}

// printLLMMeta prints model, tokens and latency.
func (r *Replayer) printLLMMeta(meta *session.EventMeta) {
	if meta == nil || r.verbosity < 1 {
		return
	}
	fmt.Fprintf(r.output, "%s%s %s  %s %d/%d  %s %s\n", gutter,
		labelStyle.Render("model:"), valueStyle.Render(meta.Model),
		labelStyle.Render("tokens:"), meta.TokensIn, meta.TokensOut,
		labelStyle.Render("latency:"), formatDuration(meta.LatencyMs))
}

func corrTag(event *session.Event) string {
	if event.CorrelationID == "" {
		return ""
	}
	return " #" + event.CorrelationID
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case session.StatusComplete:
		return successStyle
	case session.StatusFailed:
		return errorStyle
	default:
		return warnStyle
	}
}

// truncateContent cuts s to max bytes, 0 meaning unlimited.
func truncateContent(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... (%d more bytes)", len(s)-max)
}

// formatDuration formats milliseconds as human-readable duration.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm%ds", mins, secs)
}
