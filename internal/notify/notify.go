// Package notify publishes audit pipeline events to NATS.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/auditagent/internal/pipeline"
)

// Event names, appended to the configured subject.
const (
	EventRunStarted     = "run.started"
	EventRunCompleted   = "run.completed"
	EventAttemptFailed  = "attempt.failed"
	EventStageStarted   = "stage.started"
	EventStageCompleted = "stage.completed"
	EventFinding        = "finding"
)

// Publisher sends raw messages. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body of every event.
type Message struct {
	Event       string                 `json:"event"`
	RunID       string                 `json:"run_id"`
	ProjectPath string                 `json:"project_path,omitempty"`
	Stage       string                 `json:"stage,omitempty"`
	Attempt     int                    `json:"attempt,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Notifier maps pipeline callbacks to messages on <subject>.<event>.
type Notifier struct {
	pub     Publisher
	subject string
	logger  *logging.Logger
}

// New creates a notifier. A nil publisher yields a notifier that drops everything.
func New(pub Publisher, subject string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.New()
	}
	if subject == "" {
		subject = "audit"
	}
	return &Notifier{
		pub:     pub,
		subject: subject,
		logger:  logger.WithComponent("notify"),
	}
}

// Connect dials a NATS server.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("auditagent"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the full subject for event.
func (n *Notifier) Subject(event string) string {
	return n.subject + "." + event
}

// Attach registers the notifier on the controller's callbacks, chaining any
// callbacks already set.
func (n *Notifier) Attach(c *pipeline.Controller) {
	prevAttempt := c.OnAttemptStart
	c.OnAttemptStart = func(runID string, attempt int) {
		if prevAttempt != nil {
			prevAttempt(runID, attempt)
		}
		if attempt == 1 {
			n.publish(Message{Event: EventRunStarted, RunID: runID, Attempt: attempt})
		}
	}

	prevFailed := c.OnAttemptFailed
	c.OnAttemptFailed = func(runID string, attempt int, err error) {
		if prevFailed != nil {
			prevFailed(runID, attempt, err)
		}
		n.publish(Message{Event: EventAttemptFailed, RunID: runID, Attempt: attempt, Error: err.Error()})
	}

	prevStart := c.OnStageStart
	c.OnStageStart = func(runID, stage string, attempt int) {
		if prevStart != nil {
			prevStart(runID, stage, attempt)
		}
		n.publish(Message{Event: EventStageStarted, RunID: runID, Stage: stage, Attempt: attempt})
	}

	prevDone := c.OnStageComplete
	c.OnStageComplete = func(runID string, res pipeline.StageResult) {
		if prevDone != nil {
			prevDone(runID, res)
		}
		status := "ok"
		if res.Error != "" {
			status = "failed"
		}
		n.publish(Message{
			Event:   EventStageCompleted,
			RunID:   runID,
			Stage:   res.Name,
			Attempt: res.Attempt,
			Status:  status,
			Error:   res.Error,
			Data: map[string]interface{}{
				"iterations":  res.Iterations,
				"tool_calls":  res.ToolCalls,
				"findings":    res.Findings,
				"strategy":    res.Strategy,
				"duration_ms": res.Duration.Milliseconds(),
			},
		})
	}

	prevRun := c.OnRunComplete
	c.OnRunComplete = func(rep *pipeline.Report, err error) {
		if prevRun != nil {
			prevRun(rep, err)
		}
		n.RunCompleted(rep, err)
	}
}

// RunCompleted publishes one finding event per final finding and the run summary.
func (n *Notifier) RunCompleted(rep *pipeline.Report, err error) {
	vulns, _ := rep.FinalReport["vulnerabilities"].([]interface{})
	for _, v := range vulns {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		n.publish(Message{Event: EventFinding, RunID: rep.RunID, ProjectPath: rep.ProjectPath, Data: m})
	}

	msg := Message{
		Event:       EventRunCompleted,
		RunID:       rep.RunID,
		ProjectPath: rep.ProjectPath,
		Attempt:     rep.Attempts,
		Status:      rep.Status,
		Data: map[string]interface{}{
			"findings":    len(vulns),
			"duration_ms": rep.Duration.Milliseconds(),
			"session_id":  rep.SessionID,
		},
	}
	if err != nil {
		msg.Error = err.Error()
	}
	n.publish(msg)
}

// publish encodes and sends msg. Failures are only logged.
func (n *Notifier) publish(msg Message) {
	if n.pub == nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("encode event failed", map[string]interface{}{"event": msg.Event, "error": err.Error()})
		return
	}
	if err := n.pub.Publish(n.Subject(msg.Event), data); err != nil {
		n.logger.Warn("publish event failed", map[string]interface{}{"event": msg.Event, "error": err.Error()})
	}
}
