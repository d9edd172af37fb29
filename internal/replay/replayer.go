package replay

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vinayprograms/auditagent/internal/session"
)

// Replayer formats session events for forensic analysis.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int // 0 = unlimited
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits printed content fields.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// New creates a new Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads and replays a session file.
func (r *Replayer) ReplayFile(path string) error {
	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	return r.Replay(sess)
}

// ReplayFileInteractive loads and replays in the interactive pager.
func (r *Replayer) ReplayFileInteractive(path string) error {
	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	content, err := r.Render(sess)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Session: %s", sess.ID)).Run(content)
}

// ReplayFileLive replays a session that is still being written and
// re-renders whenever the file changes.
func (r *Replayer) ReplayFileLive(path string) error {
	renderFunc := func() (string, error) {
		sess, err := session.LoadFile(path)
		if err != nil {
			return "", err
		}
		return r.Render(sess)
	}

	sess, err := session.LoadFile(path)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Session: %s (LIVE)", sess.ID)).RunLive(path, renderFunc)
}

// Render returns the replay of sess as a string.
func (r *Replayer) Render(sess *session.Session) (string, error) {
	var buf strings.Builder
	clone := *r
	clone.output = &buf
	if err := clone.Replay(sess); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Replay writes a formatted timeline of session events.
func (r *Replayer) Replay(sess *session.Session) error {
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
	return nil
}

func (r *Replayer) printHeader(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sess.ID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Project: "), valueStyle.Render(sess.ProjectPath))
	if sess.Model != "" {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Model:   "), valueStyle.Render(sess.Model))
	}
	if len(sess.Stages) > 0 {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Stages:  "), valueStyle.Render(strings.Join(sess.Stages, " → ")))
	}
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status:  "), statusStyle(sess.Status).Render(sess.Status))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Created: "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess *session.Session) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(sess.Events))))
	fmt.Fprintln(r.output, divider)

	for i := range sess.Events {
		r.formatEvent(i+1, &sess.Events[i])
	}
}

func (r *Replayer) printSummary(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	switch sess.Status {
	case session.StatusComplete:
		fmt.Fprintf(r.output, "%s %s\n", successStyle.Render("COMPLETED"),
			dimStyle.Render(fmt.Sprintf("after %d attempt(s)", sess.Attempts)))
	case session.StatusFailed:
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("FAILED:"), valueStyle.Render(sess.Error))
	default:
		fmt.Fprintln(r.output, warnStyle.Render("RUNNING"))
	}

	PrintStats(r.output, ComputeStats(sess))
}
