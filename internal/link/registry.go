// Package link keeps the recovery records of attached links.
//
// A Record (name, address, direction) survives reconnects and is what the
// client replays to rebuild its link topology. Receiver handles are the
// opposite: they identify a live link on one session and are reset before
// every reattach.
package link

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidRecord = errors.New("link: invalid record")
	ErrDirection     = errors.New("link: direction mismatch")
)

// Direction of a link relative to this client.
type Direction int

const (
	DirectionSend Direction = iota
	DirectionReceive
)

func (d Direction) String() string {
	if d == DirectionReceive {
		return "receive"
	}
	return "send"
}

// Record is the durable description of one link.
type Record struct {
	Name      string
	Address   string
	Direction Direction
}

// Validate checks the fields required to recreate the link.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidRecord)
	}
	return nil
}

// Handle is an opaque, session-scoped receiver identifier.
type Handle uint32

// Registry stores sender and receiver recovery sets plus live receiver handles.
type Registry struct {
	mu        sync.RWMutex
	senders   recordSet
	receivers recordSet
	handles   map[string]Handle
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		senders:   newRecordSet(),
		receivers: newRecordSet(),
		handles:   make(map[string]Handle),
	}
}

// PutSender upserts a sender record. The recovery set keeps one record per name.
func (r *Registry) PutSender(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Direction != DirectionSend {
		return fmt.Errorf("%w: %q is a %s link", ErrDirection, rec.Name, rec.Direction)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders.put(rec)
	return nil
}

// PutReceiver upserts a receiver record and binds name to a live handle.
func (r *Registry) PutReceiver(rec Record, h Handle) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Direction != DirectionReceive {
		return fmt.Errorf("%w: %q is a %s link", ErrDirection, rec.Name, rec.Direction)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers.put(rec)
	if _, ok := r.handles[rec.Name]; !ok {
		r.order = append(r.order, rec.Name)
	}
	r.handles[rec.Name] = h
	return nil
}

// SenderRecord returns the recovery record for a sender name.
func (r *Registry) SenderRecord(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.senders.get(name)
}

// ReceiverRecord returns the recovery record for a receiver name.
func (r *Registry) ReceiverRecord(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.receivers.get(name)
}

// Senders returns the sender recovery set in attach order.
func (r *Registry) Senders() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.senders.list()
}

// Receivers returns the receiver recovery set in attach order.
func (r *Registry) Receivers() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.receivers.list()
}

// ReceiverHandle returns the live handle bound to a receiver name.
func (r *Registry) ReceiverHandle(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// HandleAt returns the i-th live handle in attach order.
func (r *Registry) HandleAt(i int) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.order) {
		return 0, false
	}
	return r.handles[r.order[i]], true
}

// Handles returns live handles in attach order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name])
	}
	return out
}

// ResetHandles forgets every live handle. Records are kept.
func (r *Registry) ResetHandles() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = make(map[string]Handle)
	r.order = nil
}

// Len returns the number of sender and receiver records.
func (r *Registry) Len() (senders int, receivers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders.items), len(r.receivers.items)
}

type recordSet struct {
	items map[string]Record
	order []string
}

func newRecordSet() recordSet {
	return recordSet{items: make(map[string]Record)}
}

func (s *recordSet) put(rec Record) {
	if _, ok := s.items[rec.Name]; !ok {
		s.order = append(s.order, rec.Name)
	}
	s.items[rec.Name] = rec
}

func (s *recordSet) get(name string) (Record, bool) {
	rec, ok := s.items[name]
	return rec, ok
}

func (s *recordSet) list() []Record {
	out := make([]Record, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.items[name])
	}
	return out
}
