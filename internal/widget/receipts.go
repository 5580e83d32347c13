package widget

import "marketchat/internal/models"

// Tick is the rendered delivery state of an outgoing message. The ladder is
// monotonic: a message never moves backwards from read to delivered or from
// delivered to sent.
type Tick int

const (
	TickSent Tick = iota
	TickDelivered
	TickRead
)

func (t Tick) String() string {
	switch t {
	case TickRead:
		return "read"
	case TickDelivered:
		return "delivered"
	default:
		return "sent"
	}
}

// TickFor derives the tick for a message from its receipt flags. Read
// dominates delivered, so a message marked read renders as read even if a
// delivery receipt never arrived for it.
func TickFor(m models.Message) Tick {
	switch {
	case m.Read:
		return TickRead
	case m.Delivered:
		return TickDelivered
	default:
		return TickSent
	}
}

// markDelivered flips the delivered flag on the message with the given ID.
// Returns true when a message changed.
func markDelivered(msgs []models.Message, id string) bool {
	for i := range msgs {
		if msgs[i].ID == id && !msgs[i].Delivered {
			msgs[i].Delivered = true
			return true
		}
	}
	return false
}

// markAllRead marks every message addressed to viewerID as read and
// delivered. Read receipts arrive as a single aggregate signal for the
// scoped conversation rather than per message, so the whole inbound side
// of the thread advances at once. Returns true when any message changed.
func markAllRead(msgs []models.Message, viewerID string) bool {
	changed := false
	for i := range msgs {
		if msgs[i].ReceiverID != viewerID {
			continue
		}
		if msgs[i].Read && msgs[i].Delivered {
			continue
		}
		msgs[i].Read = true
		msgs[i].Delivered = true
		changed = true
	}
	return changed
}
