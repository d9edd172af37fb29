// Package session records audit runs as JSONL forensic logs.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status constants for sessions.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Event types for the session log.
const (
	// Model conversation
	EventSystem    = "system"
	EventUser      = "user"
	EventAssistant = "assistant"

	// Tool dispatch
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"

	// Pipeline structure
	EventRunStart     = "run_start"
	EventRunEnd       = "run_end"
	EventAttemptStart = "attempt_start"
	EventAttemptEnd   = "attempt_end"
	EventStageStart   = "stage_start"
	EventStageEnd     = "stage_end"
	EventExtract      = "extract"
)

// Session is one audit run.
type Session struct {
	ID          string                 `json:"id"`
	ProjectPath string                 `json:"project_path"`
	Model       string                 `json:"model,omitempty"`
	Stages      []string               `json:"stages,omitempty"`
	Status      string                 `json:"status"`
	Attempts    int                    `json:"attempts,omitempty"`
	Error       string                 `json:"error,omitempty"`
	State       map[string]interface{} `json:"state,omitempty"`
	Events      []Event                `json:"events"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	seq uint64
	mu  sync.Mutex
}

// Event is a single entry in the session log.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Links a tool_call to its tool_result.
	CorrelationID string `json:"corr_id,omitempty"`

	Stage   string `json:"stage,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	Content string                 `json:"content,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	Meta *EventMeta `json:"meta,omitempty"`
}

// EventMeta carries structured detail for model calls, stages and extraction.
type EventMeta struct {
	Model     string `json:"model,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
	ToolCalls int    `json:"tool_calls,omitempty"`

	Iterations int  `json:"iterations,omitempty"`
	Exhausted  bool `json:"exhausted,omitempty"`

	// Extraction
	Strategy string   `json:"strategy,omitempty"`
	Repaired bool     `json:"repaired,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Findings int      `json:"findings,omitempty"`
}

// New returns a running session for projectPath.
func New(projectPath string) *Session {
	now := time.Now()
	return &Session{
		ID:          uuid.NewString(),
		ProjectPath: projectPath,
		Status:      StatusRunning,
		Events:      []Event{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddEvent appends an event, assigning its sequence number.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.SeqID = s.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// Finish marks the session complete or failed.
func (s *Session) Finish(attempts int, state map[string]interface{}, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Attempts = attempts
	s.State = state
	s.Status = StatusComplete
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
	}
	s.UpdatedAt = time.Now()
}

// NewCorrelationID returns an ID linking related events.
func NewCorrelationID() string {
	return uuid.NewString()[:8]
}

// Store persists sessions.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// Recorder appends events to a session and persists after each one.
// A nil Recorder discards everything, so callers never need to check.
type Recorder struct {
	sess  *Session
	store Store
	mu    sync.Mutex
	err   error
}

// NewRecorder returns a recorder writing sess through store. store may be nil
// to keep the session in memory only.
func NewRecorder(sess *Session, store Store) *Recorder {
	return &Recorder{sess: sess, store: store}
}

// Session returns the recorded session.
func (r *Recorder) Session() *Session {
	if r == nil {
		return nil
	}
	return r.sess
}

// Record appends event and saves the session.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.sess.AddEvent(event)
	r.save()
}

// Finish closes the session and saves it a last time.
func (r *Recorder) Finish(attempts int, state map[string]interface{}, err error) {
	if r == nil {
		return
	}
	r.sess.Finish(attempts, state, err)
	r.save()
}

// Err returns the first persistence error, if any.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) save() {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Save(r.sess); err != nil && r.err == nil {
		r.err = err
	}
}

// JSONL record types
const (
	RecordTypeHeader = "header"
	RecordTypeEvent  = "event"
	RecordTypeFooter = "footer"
)

// JSONLRecord is one line of a session file.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// header
	ID          string    `json:"id,omitempty"`
	ProjectPath string    `json:"project_path,omitempty"`
	Model       string    `json:"model,omitempty"`
	Stages      []string  `json:"stages,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`

	// event
	*Event `json:",omitempty"`

	// footer
	Status    string                 `json:"status,omitempty"`
	Attempts  int                    `json:"attempts,omitempty"`
	RunError  string                 `json:"run_error,omitempty"`
	State     map[string]interface{} `json:"state,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
}

// FileStore keeps one JSONL file per session in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file path for a session ID.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save rewrites the session file.
func (s *FileStore) Save(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var buf bytes.Buffer
	records := make([]JSONLRecord, 0, len(sess.Events)+2)
	records = append(records, JSONLRecord{
		RecordType:  RecordTypeHeader,
		ID:          sess.ID,
		ProjectPath: sess.ProjectPath,
		Model:       sess.Model,
		Stages:      sess.Stages,
		CreatedAt:   sess.CreatedAt,
	})
	for i := range sess.Events {
		evt := sess.Events[i]
		records = append(records, JSONLRecord{RecordType: RecordTypeEvent, Event: &evt})
	}
	if sess.Status != StatusRunning {
		records = append(records, JSONLRecord{
			RecordType: RecordTypeFooter,
			Status:     sess.Status,
			Attempts:   sess.Attempts,
			RunError:   sess.Error,
			State:      sess.State,
			UpdatedAt:  sess.UpdatedAt,
		})
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.WriteFile(s.Path(sess.ID), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads a session by ID.
func (s *FileStore) Load(id string) (*Session, error) {
	return LoadFile(s.Path(id))
}

// List returns session IDs, newest file first.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	type item struct {
		id  string
		mod time.Time
	}
	var items []item
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{strings.TrimSuffix(e.Name(), ".jsonl"), info.ModTime()})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].mod.After(items[j].mod) })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// LoadFile reads a JSONL session file. A missing footer leaves the session
// in the running state.
func LoadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses a JSONL session stream.
func Read(r io.Reader) (*Session, error) {
	sess := &Session{Status: StatusRunning, Events: []Event{}}

	// bufio.Reader has no line length limit, unlike Scanner.
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if perr := parseLine(bytes.TrimSpace(line), sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
	}

	if len(sess.Events) > 0 {
		sess.seq = sess.Events[len(sess.Events)-1].SeqID
	}
	return sess, nil
}

func parseLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.ProjectPath = record.ProjectPath
		sess.Model = record.Model
		sess.Stages = record.Stages
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Attempts = record.Attempts
		sess.Error = record.RunError
		sess.State = record.State
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}
