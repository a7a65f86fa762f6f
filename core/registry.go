package core

import (
	"maps"
	"sync"

	"github.com/google/uuid"
)

// RequestID correlates every attempt of one logical API command.
// It is sent to the API server as the request_id parameter.
type RequestID string

// PendingRequest is the bookkeeping record of an in-flight API command.
type PendingRequest struct {
	// ID is assigned by the Registry on Create.
	ID RequestID

	// Attempts is the number of tries issued so far. Zero means unset.
	Attempts int

	// Meta holds caller-defined bookkeeping that keeps the entry alive
	// after the attempt counter is cleared.
	Meta map[string]string
}

// Registry tracks in-flight API commands by RequestID.
// Every operation is total: unknown ids are ignored rather than reported,
// so a late response handler racing an explicit Remove is harmless.
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[RequestID]*PendingRequest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[RequestID]*PendingRequest)}
}

// Create stores initial under a fresh UUIDv4 and returns the id.
// The id is embedded in the stored record.
func (r *Registry) Create(initial PendingRequest) RequestID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := RequestID(uuid.NewString())
	for _, taken := r.entries[id]; taken; _, taken = r.entries[id] {
		id = RequestID(uuid.NewString())
	}

	entry := &PendingRequest{
		ID:       id,
		Attempts: initial.Attempts,
		Meta:     maps.Clone(initial.Meta),
	}
	r.entries[id] = entry
	return id
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id RequestID) (PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return PendingRequest{}, false
	}
	return PendingRequest{ID: entry.ID, Attempts: entry.Attempts, Meta: maps.Clone(entry.Meta)}, true
}

// SetAttemptCount records n attempts for id. No-op if id is unknown.
func (r *Registry) SetAttemptCount(id RequestID, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		entry.Attempts = n
	}
}

// ClearAttemptCount drops the attempt counter for id. When nothing but the
// id would remain, the whole entry is deleted.
func (r *Registry) ClearAttemptCount(id RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.Attempts = 0
	if len(entry.Meta) == 0 {
		delete(r.entries, id)
	}
}

// Remove deletes the entry for id regardless of its contents.
func (r *Registry) Remove(id RequestID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
