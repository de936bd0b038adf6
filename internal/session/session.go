// Package session holds the per-(intent, conversation) mutable agent state:
// message history, context variables with shared/private scoping, and queued
// cross-agent merges.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/morgana/internal/bus"
)

// Reserved context keys for ephemeral UI artifacts. They are harvested and
// dropped at the end of every turn and never reach the persisted blob.
const (
	KeyQuickReplies = "quick_replies"
	KeyRichCard     = "rich_card"
)

// Message is one history entry. Role is system, user, assistant or tool.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is owned by a single agent actor; history and variables are only
// touched from that actor. The pending-merge queue is the one exception: the
// router appends to it from its own goroutine, so it has its own lock.
type Session struct {
	messages  []Message
	variables map[string]any
	shared    map[string]struct{}
	reducer   Reducer
	loaded    bool

	mergeMu       sync.Mutex
	pendingMerges []bus.ContextUpdate
}

// New creates an empty session. sharedNames is fixed for the session's
// lifetime; it derives from the agent's tool definitions at construction.
func New(sharedNames []string) *Session {
	s := &Session{
		variables: make(map[string]any),
		shared:    make(map[string]struct{}, len(sharedNames)),
	}
	for _, n := range sharedNames {
		s.shared[n] = struct{}{}
	}
	return s
}

// SetReducer installs the history-view reducer. Nil means the full history
// is sent to the model.
func (s *Session) SetReducer(r Reducer) { s.reducer = r }

// Append adds one message to the history.
func (s *Session) Append(role, content string) {
	s.messages = append(s.messages, Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
}

// History returns the full history. The returned slice must not be mutated.
func (s *Session) History() []Message { return s.messages }

// HistoryView returns the history shaped for the model. The reducer is
// applied lazily here only; the stored history is never modified.
func (s *Session) HistoryView() []Message {
	if s.reducer == nil {
		return s.messages
	}
	return s.reducer(s.messages)
}

// Set writes a context variable and reports whether the name is shared.
func (s *Session) Set(name string, value any) (shared bool) {
	s.variables[name] = value
	_, shared = s.shared[name]
	return shared
}

// Get reads a context variable.
func (s *Session) Get(name string) (any, bool) {
	v, ok := s.variables[name]
	return v, ok
}

// Delete removes a context variable.
func (s *Session) Delete(name string) { delete(s.variables, name) }

// IsShared reports whether name is in the shared set.
func (s *Session) IsShared(name string) bool {
	_, ok := s.shared[name]
	return ok
}

// SharedNames enumerates the shared variable names.
func (s *Session) SharedNames() []string {
	names := make([]string, 0, len(s.shared))
	for n := range s.shared {
		names = append(names, n)
	}
	return names
}

// MarkLoaded records that the persistence check for this session happened.
// A shell session created only to queue early merges is not loaded yet.
func (s *Session) MarkLoaded() { s.loaded = true }

// Loaded reports whether MarkLoaded was called.
func (s *Session) Loaded() bool { return s.loaded }

// AdoptPending moves the pending merge queue from a shell session into this
// one, preserving order. Used when a persisted session replaces the shell.
func (s *Session) AdoptPending(shell *Session) {
	shell.mergeMu.Lock()
	pending := shell.pendingMerges
	shell.pendingMerges = nil
	shell.mergeMu.Unlock()

	if len(pending) == 0 {
		return
	}
	s.mergeMu.Lock()
	s.pendingMerges = append(pending, s.pendingMerges...)
	s.mergeMu.Unlock()
}

// QueueMerge appends an incoming shared-context update. Called from the
// router goroutine; order of calls per source is preserved.
func (s *Session) QueueMerge(u bus.ContextUpdate) {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()
	s.pendingMerges = append(s.pendingMerges, u)
}

// DrainMerges applies queued updates with first-write-wins: an incoming
// value is accepted iff the key is absent locally. Returns the number of
// keys actually written.
func (s *Session) DrainMerges() int {
	s.mergeMu.Lock()
	pending := s.pendingMerges
	s.pendingMerges = nil
	s.mergeMu.Unlock()

	applied := 0
	for _, u := range pending {
		for _, kv := range u.Updates {
			if _, exists := s.variables[kv.Key]; exists {
				continue
			}
			s.variables[kv.Key] = kv.Value
			applied++
		}
	}
	return applied
}

// HarvestEphemeral removes and returns the raw ephemeral UI artifacts.
func (s *Session) HarvestEphemeral() (quickReplies, richCard string) {
	if v, ok := s.variables[KeyQuickReplies]; ok {
		quickReplies, _ = v.(string)
		delete(s.variables, KeyQuickReplies)
	}
	if v, ok := s.variables[KeyRichCard]; ok {
		richCard, _ = v.(string)
		delete(s.variables, KeyRichCard)
	}
	return quickReplies, richCard
}

// payload is the persisted shape. Pending merges are consumed before save
// and never persist.
type payload struct {
	MessageHistory      []Message      `json:"message_history"`
	ContextVariables    map[string]any `json:"context_variables"`
	SharedVariableNames []string       `json:"shared_variable_names"`
}

// MarshalBlob serializes the session for the persistence store.
func (s *Session) MarshalBlob() ([]byte, error) {
	p := payload{
		MessageHistory:      s.messages,
		ContextVariables:    s.variables,
		SharedVariableNames: s.SharedNames(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// FromBlob rebuilds a session from a persisted blob. Reducers and callbacks
// are not part of the serialized state; the caller re-wires them.
func FromBlob(data []byte) (*Session, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	s := New(p.SharedVariableNames)
	s.messages = p.MessageHistory
	if p.ContextVariables != nil {
		s.variables = p.ContextVariables
	}
	return s, nil
}
