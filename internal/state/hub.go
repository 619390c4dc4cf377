// Package state holds the process-wide analysis state that views read.
package state

import (
	"bytes"
	"encoding/json"
	"sync"
)

// ErrorKeyAnalysis is the Errors key owned by the request gate.
const ErrorKeyAnalysis = "analysis"

// State is the shared analysis state. Result is the opaque payload of the
// last successful analysis.
type State struct {
	IsLoading       bool              `json:"isLoading"`
	Errors          map[string]string `json:"errors"`
	Result          json.RawMessage   `json:"result"`
	Target          string            `json:"target"`
	CooldownSeconds int               `json:"cooldownSeconds"`
	Recent          []string          `json:"recent"`
}

// Error returns the analysis error; "" means none.
func (s State) Error() string {
	return s.Errors[ErrorKeyAnalysis]
}

// Partial is a keyed update. Nil fields are left untouched.
type Partial struct {
	IsLoading *bool
	// Errors is merged key by key; an empty value deletes its key.
	Errors          map[string]string
	Result          json.RawMessage
	ClearResult     bool
	Target          *string
	CooldownSeconds *int
	Recent          []string
}

// Bool returns a pointer to v, for Partial literals.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for Partial literals.
func Int(v int) *int { return &v }

// String returns a pointer to v, for Partial literals.
func String(v string) *string { return &v }

// Hub owns the shared state. Writers merge partial updates; readers get
// copies and never mutate the hub.
type Hub struct {
	mu     sync.RWMutex
	state  State
	nextID int
	subs   map[int]chan State
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		state: State{Errors: map[string]string{}, Recent: []string{}},
		subs:  make(map[int]chan State),
	}
}

// Read returns a copy of the current state.
func (h *Hub) Read() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.clone()
}

// Merge applies p and publishes the result to subscribers. It returns the
// merged state.
func (h *Hub) Merge(p Partial) State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.IsLoading != nil {
		h.state.IsLoading = *p.IsLoading
	}
	for k, v := range p.Errors {
		if v == "" {
			delete(h.state.Errors, k)
			continue
		}
		h.state.Errors[k] = v
	}
	if p.ClearResult {
		h.state.Result = nil
	}
	if p.Result != nil {
		h.state.Result = cloneRaw(p.Result)
	}
	if p.Target != nil {
		h.state.Target = *p.Target
	}
	if p.CooldownSeconds != nil {
		h.state.CooldownSeconds = *p.CooldownSeconds
	}
	if p.Recent != nil {
		h.state.Recent = append([]string{}, p.Recent...)
	}

	snapshot := h.state.clone()
	for _, ch := range h.subs {
		publish(ch, snapshot.clone())
	}
	return snapshot
}

// Subscribe returns a channel that receives the state after every merge,
// starting with the current one. Delivery is latest-wins: a slow reader only
// ever misses intermediate states. cancel closes the channel.
func (h *Hub) Subscribe() (<-chan State, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan State, 1)
	ch <- h.state.clone()
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish replaces an undelivered state with s. Callers hold h.mu, so there is
// a single sender per channel.
func publish(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (s State) clone() State {
	out := s
	out.Errors = make(map[string]string, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	out.Result = cloneRaw(s.Result)
	out.Recent = append([]string{}, s.Recent...)
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return json.RawMessage(bytes.Clone(raw))
}
