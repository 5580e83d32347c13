package widget

import (
	"time"

	"github.com/google/uuid"
)

// DefaultNotificationTTL is how long a toast stays queued before it expires
// on its own.
const DefaultNotificationTTL = 4500 * time.Millisecond

// Notification is one queued message toast. From identifies the sender so
// tapping the toast can open that conversation.
type Notification struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// notifyQueue owns the pending toasts and their expiry timers. All methods
// must be called with the widget's lock held; timer callbacks re-enter
// through the widget, which takes the lock itself.
type notifyQueue struct {
	ttl     time.Duration
	pending []Notification
	timers  map[string]*time.Timer
	expire  func(id string)
}

func newNotifyQueue(ttl time.Duration, expire func(id string)) *notifyQueue {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &notifyQueue{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
		expire: expire,
	}
}

// push queues a toast unless an identical one (same sender, same message
// time) is already pending. The duplicate check covers the case where the
// same message reaches the client through two different events.
func (q *notifyQueue) push(from, content string, at time.Time) {
	for _, n := range q.pending {
		if n.From == from && n.Time.Equal(at) {
			return
		}
	}
	n := Notification{
		ID:      uuid.NewString(),
		From:    from,
		Content: content,
		Time:    at,
	}
	q.pending = append(q.pending, n)
	q.timers[n.ID] = time.AfterFunc(q.ttl, func() { q.expire(n.ID) })
}

// remove drops a toast by ID and cancels its timer. Safe to call for IDs
// that already expired.
func (q *notifyQueue) remove(id string) bool {
	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	for i, n := range q.pending {
		if n.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// removeFrom drops every pending toast from the given sender, used when
// their conversation is opened.
func (q *notifyQueue) removeFrom(from string) {
	kept := q.pending[:0]
	for _, n := range q.pending {
		if n.From == from {
			if t, ok := q.timers[n.ID]; ok {
				t.Stop()
				delete(q.timers, n.ID)
			}
			continue
		}
		kept = append(kept, n)
	}
	q.pending = kept
}

// clear cancels every timer and empties the queue.
func (q *notifyQueue) clear() {
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.pending = nil
}

func (q *notifyQueue) snapshot() []Notification {
	out := make([]Notification, len(q.pending))
	copy(out, q.pending)
	return out
}
