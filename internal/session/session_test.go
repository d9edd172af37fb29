package session

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSession_New(t *testing.T) {
	a := New("/p")
	b := New("/p")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique non-empty IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Status != StatusRunning {
		t.Errorf("expected status running, got %s", a.Status)
	}
}

func TestSession_AddEventSequences(t *testing.T) {
	sess := New("/p")

	first := sess.AddEvent(Event{Type: EventStageStart, Stage: "ProjectAnalyzer"})
	second := sess.AddEvent(Event{Type: EventStageEnd, Stage: "ProjectAnalyzer"})

	if first != 1 || second != 2 {
		t.Errorf("expected sequence 1,2 got %d,%d", first, second)
	}
	if sess.Events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sess := New("/work/app")
	sess.Model = "gpt-4o"
	sess.Stages = []string{"ProjectAnalyzer", "ReportGenerator"}
	rec := NewRecorder(sess, store)

	ok := false
	rec.Record(Event{Type: EventToolCall, Tool: "read_file", Args: map[string]interface{}{"file_path": "/work/app/a.py"}, CorrelationID: "c1"})
	rec.Record(Event{Type: EventToolResult, Tool: "read_file", CorrelationID: "c1", Success: &ok, Error: "file not found"})
	rec.Finish(2, map[string]interface{}{"project_path": "/work/app"}, nil)

	if rec.Err() != nil {
		t.Fatalf("unexpected save error: %v", rec.Err())
	}

	loaded, err := store.Load(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ProjectPath != "/work/app" || loaded.Model != "gpt-4o" || len(loaded.Stages) != 2 {
		t.Errorf("header not restored: %+v", loaded)
	}
	if len(loaded.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded.Events))
	}
	if loaded.Events[1].Error != "file not found" {
		t.Errorf("event error should survive the round trip, got %q", loaded.Events[1].Error)
	}
	if loaded.Status != StatusComplete || loaded.Attempts != 2 {
		t.Errorf("footer not restored: status=%s attempts=%d", loaded.Status, loaded.Attempts)
	}
	if loaded.State["project_path"] != "/work/app" {
		t.Errorf("state not restored: %v", loaded.State)
	}

	// sequence continues after reload
	if seq := loaded.AddEvent(Event{Type: EventRunEnd}); seq != 3 {
		t.Errorf("expected next seq 3, got %d", seq)
	}
}

func TestFileStore_RunningSessionHasNoFooter(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	sess := New("/p")
	NewRecorder(sess, store).Record(Event{Type: EventRunStart})

	data, err := os.ReadFile(store.Path(sess.ID))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"_type":"footer"`) {
		t.Error("running session should not have a footer")
	}
	loaded, _ := store.Load(sess.ID)
	if loaded.Status != StatusRunning {
		t.Errorf("expected running, got %s", loaded.Status)
	}
}

func TestFileStore_Failed(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	sess := New("/p")
	rec := NewRecorder(sess, store)

	rec.Finish(3, nil, errors.New("LLM error: rate limited"))

	loaded, _ := store.Load(sess.ID)
	if loaded.Status != StatusFailed || loaded.Error != "LLM error: rate limited" {
		t.Errorf("unexpected footer %s %q", loaded.Status, loaded.Error)
	}
}

func TestFileStore_List(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	for i := 0; i < 3; i++ {
		store.Save(New("/p"))
	}

	ids, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(ids))
	}
}

func TestRead_NoTrailingNewline(t *testing.T) {
	input := `{"_type":"header","id":"abc","project_path":"/p"}
{"_type":"event","seq":1,"type":"run_start","timestamp":"2026-01-01T00:00:00Z"}`

	sess, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID != "abc" || len(sess.Events) != 1 {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestRead_BadLine(t *testing.T) {
	if _, err := Read(strings.NewReader("{not json}\n")); err == nil {
		t.Error("expected parse error")
	}
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	rec.Record(Event{Type: EventRunStart})
	rec.Finish(1, nil, nil)
	if rec.Err() != nil || rec.Session() != nil {
		t.Error("nil recorder should be inert")
	}
}
