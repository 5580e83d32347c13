package widget

import "marketchat/internal/models"

// inbox holds the viewer's conversation list as last fetched from the
// server, plus the per-counterpart unread counts derived from it. Counts can
// be zeroed optimistically when a conversation is opened; the next refresh
// overwrites them with the server's view.
type inbox struct {
	entries []models.Conversation
	unread  map[string]int
}

func newInbox() *inbox {
	return &inbox{unread: make(map[string]int)}
}

// apply replaces the inbox with a fresh server snapshot.
func (in *inbox) apply(list []models.Conversation) {
	in.entries = list
	in.unread = make(map[string]int, len(list))
	for _, c := range list {
		in.unread[c.UserID] = c.Unread
	}
}

// find returns the entry for the given counterpart, or nil.
func (in *inbox) find(counterpartID string) *models.Conversation {
	for i := range in.entries {
		if in.entries[i].UserID == counterpartID {
			return &in.entries[i]
		}
	}
	return nil
}

// zeroUnread clears the unread count for a counterpart ahead of the server
// catching up, so the badge disappears the moment the conversation opens.
func (in *inbox) zeroUnread(counterpartID string) {
	in.unread[counterpartID] = 0
	if e := in.find(counterpartID); e != nil {
		e.Unread = 0
		e.Read = true
	}
}

func (in *inbox) unreadFor(counterpartID string) int {
	return in.unread[counterpartID]
}

// totalUnread is the launcher badge count.
func (in *inbox) totalUnread() int {
	total := 0
	for _, n := range in.unread {
		total += n
	}
	return total
}
