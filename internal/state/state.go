// Package state holds the cross-stage artifacts of one audit run.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Well-known keys.
const (
	KeyProjectPath     = "project_path"
	KeyProjectAnalysis = "project_analysis"
	KeyVulnerabilities = "business_vulnerabilities"
	KeyFinalReport     = "final_report"
)

// Kind determines how writes to a key are merged.
type Kind int

const (
	// KindObject keys are replaced on every write.
	KindObject Kind = iota
	// KindList keys are extended on every write.
	KindList
	// KindScalar keys hold a plain value and are replaced on every write.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindScalar:
		return "scalar"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "object", "replace":
		return KindObject, nil
	case "list", "append":
		return KindList, nil
	case "scalar":
		return KindScalar, nil
	default:
		return 0, fmt.Errorf("unknown state kind %q", s)
	}
}

// Store is a key-value store of JSON-compatible values.
// Stages run sequentially, so writes never race with a running stage;
// the mutex only guards observers reading snapshots.
type Store struct {
	mu     sync.RWMutex
	kinds  map[string]Kind
	values map[string]interface{}
}

// New creates a store with the mandatory keys at their initial values.
func New(projectPath string) *Store {
	s := &Store{
		kinds: map[string]Kind{
			KeyProjectPath:     KindScalar,
			KeyProjectAnalysis: KindObject,
			KeyVulnerabilities: KindList,
			KeyFinalReport:     KindObject,
		},
	}
	s.Reset(projectPath)
	return s
}

// Declare registers an additional key with its merge kind.
// Declaring an existing key with a different kind is an error.
func (s *Store) Declare(key string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.kinds[key]; ok {
		if existing != kind {
			return fmt.Errorf("state key %q already declared as %s", key, existing)
		}
		return nil
	}
	s.kinds[key] = kind
	s.values[key] = initialValue(kind)
	return nil
}

// KindOf returns the merge kind of key.
func (s *Store) KindOf(key string) (Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kinds[key]
	return k, ok
}

// Reset restores every key to its initial value.
func (s *Store) Reset(projectPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]interface{}, len(s.kinds))
	for key, kind := range s.kinds {
		s.values[key] = initialValue(kind)
	}
	s.values[KeyProjectPath] = projectPath
}

func initialValue(kind Kind) interface{} {
	switch kind {
	case KindObject:
		return map[string]interface{}{}
	case KindList:
		return []interface{}{}
	default:
		return ""
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Replace overwrites an object or scalar key.
func (s *Store) Replace(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.kinds[key]
	if !ok {
		return fmt.Errorf("unknown state key %q", key)
	}
	if kind == KindList {
		return fmt.Errorf("state key %q is a list; use Append", key)
	}
	if kind == KindObject {
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("state key %q expects an object, got %T", key, value)
		}
		if obj == nil {
			value = map[string]interface{}{}
		}
	}
	s.values[key] = value
	return nil
}

// Append extends a list key and returns the new length.
func (s *Store) Append(key string, items ...interface{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind, ok := s.kinds[key]
	if !ok {
		return 0, fmt.Errorf("unknown state key %q", key)
	}
	if kind != KindList {
		return 0, fmt.Errorf("state key %q is not a list", key)
	}
	list, _ := s.values[key].([]interface{})
	list = append(list, items...)
	s.values[key] = list
	return len(list), nil
}

// ProjectPath returns the project path of the run.
func (s *Store) ProjectPath() string {
	v, _ := s.Get(KeyProjectPath)
	p, _ := v.(string)
	return p
}

// Object returns an object key, or an empty map.
func (s *Store) Object(key string) map[string]interface{} {
	v, _ := s.Get(key)
	if obj, ok := v.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{}
}

// List returns a copy of a list key.
func (s *Store) List(key string) []interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, _ := s.values[key].([]interface{})
	out := make([]interface{}, len(list))
	copy(out, list)
	return out
}

// Keys returns the declared keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of all values, safe to hand to other goroutines.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = deepCopy(v)
	}
	return out
}

// JSON renders the value under key as indented JSON.
func (s *Store) JSON(key string) (string, error) {
	v, _ := s.Get(key)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", key, err)
	}
	return string(data), nil
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, val := range t {
			l[i] = deepCopy(val)
		}
		return l
	default:
		return v
	}
}
