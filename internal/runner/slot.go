package runner

import "sync"

// Slot admits at most one job at a time.
type Slot struct {
	mu   sync.Mutex
	held *Lease
}

// Lease is proof of holding the slot.
type Lease struct {
	slot *Slot
	once sync.Once
}

// TryAcquire takes the slot if it is free.
func (s *Slot) TryAcquire() (*Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held != nil {
		return nil, false
	}
	l := &Lease{slot: s}
	s.held = l
	return l, true
}

// Held reports whether a lease is outstanding.
func (s *Slot) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held != nil
}

// Release frees the slot. Only the first call has an effect.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.slot.mu.Lock()
		if l.slot.held == l {
			l.slot.held = nil
		}
		l.slot.mu.Unlock()
	})
}
