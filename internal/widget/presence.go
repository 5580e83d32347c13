package widget

import "time"

// PresenceState is what the header of an open conversation renders. Online
// is only meaningful once a presence event for the scoped counterpart has
// been observed; before that Known is false and the UI shows nothing.
type PresenceState struct {
	Known    bool
	Online   bool
	LastSeen time.Time
}

// Tracker follows presence and typing for a single counterpart, the one the
// widget is currently scoped to. Events for any other user are ignored, and
// rescoping resets everything back to unknown.
type Tracker struct {
	scope  string
	state  PresenceState
	typing bool
}

// ScopeTo points the tracker at a new counterpart and clears all state
// carried over from the previous one.
func (t *Tracker) ScopeTo(counterpartID string) {
	t.scope = counterpartID
	t.state = PresenceState{}
	t.typing = false
}

func (t *Tracker) State() PresenceState { return t.state }
func (t *Tracker) Typing() bool         { return t.typing }

// ObserveOnline records that userID came online. Only the scoped
// counterpart affects the tracker.
func (t *Tracker) ObserveOnline(userID string) {
	if userID != t.scope || t.scope == "" {
		return
	}
	t.state = PresenceState{Known: true, Online: true}
}

// ObserveOffline records that userID went offline at the given time. The
// timestamp becomes the "last seen" shown in the conversation header.
func (t *Tracker) ObserveOffline(userID string, lastSeen time.Time) {
	if userID != t.scope || t.scope == "" {
		return
	}
	t.state = PresenceState{Known: true, Online: false, LastSeen: lastSeen}
	t.typing = false
}

func (t *Tracker) ObserveTyping(userID string) {
	if userID != t.scope || t.scope == "" {
		return
	}
	t.typing = true
}

func (t *Tracker) ObserveStopTyping(userID string) {
	if userID != t.scope || t.scope == "" {
		return
	}
	t.typing = false
}

// ObserveMessage clears the typing indicator when a message from the scoped
// counterpart lands: the arrival itself proves they stopped typing, and the
// stopTyping event may race behind the message.
func (t *Tracker) ObserveMessage(senderID string) {
	if senderID != t.scope || t.scope == "" {
		return
	}
	t.typing = false
}
