// Package durable implements the Durable Peer specialization from spec
// §4.D: a Peer whose outgoing calls persist their pending state to
// synchronous external storage and whose completion routes to a named
// host callback, surviving process hibernation.
package durable

import (
	"sort"
	"sync"
)

// PendingCall is the durable analog of peer's in-memory pendingRequest,
// per spec §3: it is owned by external storage rather than the Peer, and
// its lifetime spans send until response/error/timeout/explicit clear —
// including across a process suspend/resume cycle.
type PendingCall struct {
	ID          string
	Method      string
	Params      []byte // codec-encoded, per the SQL schema's `params TEXT` column
	Callback    string
	SentAtMs    int64
	TimeoutAtMs int64
}

// clone returns a defensive copy of c, so storage.Get's contract ("the
// returned value must not alias the stored representation") holds even
// when a caller mutates the Params slice they got back.
func (c PendingCall) clone() PendingCall {
	params := make([]byte, len(c.Params))
	copy(params, c.Params)
	c.Params = params
	return c
}

// SyncPendingCallStorage is the synchronous, transactional-per-call
// contract spec §4.D requires of durable storage. Every method is
// synchronous: save(call) must be observable by any subsequent get(id) on
// the same storage instance before save returns, per spec §3's durable
// storage invariant.
type SyncPendingCallStorage interface {
	Save(call PendingCall) error
	Get(id string) (PendingCall, bool, error)
	Delete(id string) (bool, error)
	ListExpired(beforeMs int64) ([]PendingCall, error)
	ListAll() ([]PendingCall, error)
	Clear() error
}

// MemoryStorage is the in-memory SyncPendingCallStorage reference
// implementation named in spec §4.D.
type MemoryStorage struct {
	mu    sync.Mutex
	calls map[string]PendingCall
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{calls: make(map[string]PendingCall)}
}

func (s *MemoryStorage) Save(call PendingCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[call.ID] = call.clone()
	return nil
}

func (s *MemoryStorage) Get(id string) (PendingCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return PendingCall{}, false, nil
	}
	return call.clone(), true, nil
}

func (s *MemoryStorage) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calls[id]
	delete(s.calls, id)
	return ok, nil
}

func (s *MemoryStorage) ListExpired(beforeMs int64) ([]PendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingCall
	for _, call := range s.calls {
		if call.TimeoutAtMs <= beforeMs {
			out = append(out, call.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeoutAtMs < out[j].TimeoutAtMs })
	return out, nil
}

func (s *MemoryStorage) ListAll() ([]PendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingCall, 0, len(s.calls))
	for _, call := range s.calls {
		out = append(out, call.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAtMs < out[j].SentAtMs })
	return out, nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]PendingCall)
	return nil
}
