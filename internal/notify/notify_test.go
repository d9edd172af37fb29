package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/auditagent/internal/pipeline"
	"github.com/vinayprograms/auditagent/internal/tools"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	messages []Message
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.messages = append(f.messages, m)
	return f.err
}

func TestNotifier_AttachPublishesRunEvents(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse(`{"vulnerabilities": [{"type": "IDOR", "severity": "HIGH", "file": "a.py", "description": "x"}]}`)
	c, err := pipeline.New(provider, tools.NewRegistry(), pipeline.DefaultStages(), pipeline.Options{})
	if err != nil {
		t.Fatal(err)
	}
	completed := 0
	c.OnRunComplete = func(*pipeline.Report, error) { completed++ }

	pub := &fakePublisher{}
	New(pub, "sec", nil).Attach(c)

	if _, err := c.Run(context.Background(), "/p"); err != nil {
		t.Fatal(err)
	}

	if completed != 1 {
		t.Error("existing callbacks should still run")
	}
	want := []string{
		"sec.run.started",
		"sec.stage.started", "sec.stage.completed",
		"sec.stage.started", "sec.stage.completed",
		"sec.stage.started", "sec.stage.completed",
		"sec.finding",
		"sec.run.completed",
	}
	if len(pub.subjects) != len(want) {
		t.Fatalf("expected %d messages, got %v", len(want), pub.subjects)
	}
	for i, s := range want {
		if pub.subjects[i] != s {
			t.Errorf("message %d: expected %s, got %s", i, s, pub.subjects[i])
		}
	}
	last := pub.messages[len(pub.messages)-1]
	if last.Status != pipeline.StatusComplete || last.ProjectPath != "/p" || last.Data["findings"] != float64(1) {
		t.Errorf("unexpected run summary %+v", last)
	}
	if pub.messages[7].Data["type"] != "IDOR" {
		t.Errorf("finding event should carry the finding, got %v", pub.messages[7].Data)
	}
}

func TestNotifier_AttemptFailed(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("down")
	}
	c, err := pipeline.New(provider, tools.NewRegistry(), pipeline.DefaultStages(), pipeline.Options{MaxAttempts: 2, RetryDelay: -1})
	if err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{}
	New(pub, "", nil).Attach(c)

	c.Run(context.Background(), "/p")

	failed := 0
	for _, s := range pub.subjects {
		if s == "audit.attempt.failed" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 attempt failures, got %d in %v", failed, pub.subjects)
	}
	last := pub.messages[len(pub.messages)-1]
	if last.Status != pipeline.StatusFailed || last.Error == "" {
		t.Errorf("unexpected run summary %+v", last)
	}
}

func TestNotifier_PublishErrorsAreSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	n := New(pub, "x", nil)

	n.RunCompleted(&pipeline.Report{RunID: "r", FinalReport: map[string]interface{}{}}, nil)

	if len(pub.subjects) != 1 || pub.subjects[0] != "x.run.completed" {
		t.Errorf("unexpected publishes %v", pub.subjects)
	}
}

func TestNotifier_NilPublisher(t *testing.T) {
	n := New(nil, "x", nil)
	n.RunCompleted(&pipeline.Report{FinalReport: map[string]interface{}{}}, nil)
}
