package notify

import (
	"context"
	"sync"
)

const defaultInboxCapacity = 100

// Inbox keeps undelivered notifications per user in memory.
type Inbox struct {
	mu       sync.Mutex
	capacity int
	byUser   map[string][]Notification
}

// NewInbox creates an inbox keeping at most capacity notifications per user.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = defaultInboxCapacity
	}
	return &Inbox{capacity: capacity, byUser: make(map[string][]Notification)}
}

// Notify implements Notifier. The oldest entries are dropped once full.
func (i *Inbox) Notify(_ context.Context, n Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := append(i.byUser[n.UserID], n)
	if len(list) > i.capacity {
		list = list[len(list)-i.capacity:]
	}
	i.byUser[n.UserID] = list
	return nil
}

// Drain returns and forgets the user's pending notifications, oldest first.
func (i *Inbox) Drain(userID string) []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	list := i.byUser[userID]
	delete(i.byUser, userID)
	if list == nil {
		return []Notification{}
	}
	return list
}
