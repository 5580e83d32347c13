package widget

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketchat/internal/models"
	"marketchat/internal/observability"
	"marketchat/internal/protocol"
)

// DefaultReadSignalDebounce bounds how often a read signal is sent for the
// same counterpart while their messages keep arriving into an open
// conversation.
const DefaultReadSignalDebounce = 400 * time.Millisecond

// Options configures a Widget.
type Options struct {
	// SelfID is the authenticated viewer. Empty means logged out: the
	// widget stays inert and Connect is a silent no-op.
	SelfID string

	// API is the chat server's REST surface.
	API API

	// Dialer and SocketURL configure the live connection.
	Dialer    Dialer
	SocketURL string

	// NotificationTTL overrides how long toasts live. Zero means the
	// default of 4.5 seconds.
	NotificationTTL time.Duration

	// ReadSignalDebounce overrides the read-signal debounce window. Zero
	// means the default.
	ReadSignalDebounce time.Duration

	// OnChange, when set, is invoked after every observable state change.
	// It is called without internal locks held, so it may read back any
	// accessor.
	OnChange func()
}

// Widget is the headless engine behind the floating chat widget. It owns the
// socket connection, the active conversation's reconciled history, presence
// and typing for the scoped counterpart, the inbox list with unread counts,
// and the toast queue. All exported methods are safe for concurrent use.
type Widget struct {
	selfID string
	api    API
	conn   *ConnManager
	log    *observability.Logger

	onChange     func()
	readDebounce time.Duration

	mu         sync.Mutex
	open       bool
	minimized  bool
	active     *models.Conversation
	activeNew  bool
	partner    *models.Profile
	snapshot   []models.Message
	live       []models.Message
	loading    bool
	presence   Tracker
	inbox      *inbox
	notes      *notifyQueue
	lastRead   map[string]time.Time
	typingSent bool
	refreshing bool
	closed     bool
}

// New builds a widget for the given viewer. Call Connect to bring the live
// connection up and Close to tear everything down.
func New(opts Options) *Widget {
	w := &Widget{
		selfID:       opts.SelfID,
		api:          opts.API,
		log:          observability.GlobalLogger,
		onChange:     opts.OnChange,
		readDebounce: opts.ReadSignalDebounce,
		inbox:        newInbox(),
		lastRead:     make(map[string]time.Time),
	}
	if w.readDebounce <= 0 {
		w.readDebounce = DefaultReadSignalDebounce
	}
	w.notes = newNotifyQueue(opts.NotificationTTL, w.expireNotification)
	w.conn = NewConnManager(opts.Dialer, opts.SocketURL, w.handleEvent)
	return w
}

// Connect brings up the live connection and primes the inbox. With no
// viewer identity it does nothing; a dial failure is reported but leaves the
// widget usable in a degraded, REST-only fashion.
func (w *Widget) Connect() error {
	if w.selfID == "" {
		return nil
	}
	err := w.conn.Connect(w.selfID)
	w.RefreshInbox()
	return err
}

// Close tears the widget down: pending toast timers are cancelled and the
// connection is released. The widget must not be used afterwards.
func (w *Widget) Close() {
	w.mu.Lock()
	w.closed = true
	w.notes.clear()
	w.mu.Unlock()
	w.conn.Disconnect()
}

// OpenWidget opens the widget. With a counterpart ID it jumps straight into
// that conversation, creating a fresh thread when none exists yet (the
// "contact seller" path). With an empty ID it opens on the inbox list, or
// restores whatever was active if the widget was merely minimized.
func (w *Widget) OpenWidget(counterpartID string) {
	w.mu.Lock()
	wasMinimized := w.minimized
	w.open = true
	w.minimized = false
	switch {
	case counterpartID != "":
		w.openConversationLocked(counterpartID)
	case wasMinimized:
		// restore as-is
	default:
		w.resetThreadLocked()
	}
	w.mu.Unlock()

	if counterpartID == "" {
		w.RefreshInbox()
	}
	w.changed()
}

// CloseWidget closes the widget entirely, discarding the active
// conversation.
func (w *Widget) CloseWidget() {
	w.mu.Lock()
	w.open = false
	w.minimized = false
	w.resetThreadLocked()
	w.mu.Unlock()
	w.changed()
}

// MinimizeWidget collapses the widget to its launcher without discarding
// the active conversation; OpenWidget("") restores it.
func (w *Widget) MinimizeWidget() {
	w.mu.Lock()
	w.open = false
	w.minimized = true
	w.mu.Unlock()
	w.changed()
}

// OpenConversation switches the open widget to the given counterpart,
// fully resetting the previous thread's state first.
func (w *Widget) OpenConversation(counterpartID string) {
	if counterpartID == "" {
		return
	}
	w.mu.Lock()
	w.open = true
	w.minimized = false
	w.openConversationLocked(counterpartID)
	w.mu.Unlock()
	w.changed()
}

// BackToInbox leaves the active conversation and returns to the list.
func (w *Widget) BackToInbox() {
	w.mu.Lock()
	w.resetThreadLocked()
	w.mu.Unlock()
	w.RefreshInbox()
	w.changed()
}

// openConversationLocked is the single path onto a conversation: it tears
// down every trace of the previous thread before wiring up the new one, so
// history, partner, presence and typing never bleed across a switch.
func (w *Widget) openConversationLocked(counterpartID string) {
	w.resetThreadLocked()

	if e := w.inbox.find(counterpartID); e != nil {
		entry := *e
		w.active = &entry
		w.activeNew = false
	} else {
		w.active = &models.Conversation{
			UserID: counterpartID,
			Read:   true,
			Time:   time.Now().UTC(),
		}
		w.activeNew = true
	}

	w.presence.ScopeTo(counterpartID)
	w.conn.ScopeTo(counterpartID)
	w.inbox.zeroUnread(counterpartID)
	w.notes.removeFrom(counterpartID)
	w.sendReadSignalLocked(counterpartID)

	w.loading = true
	go w.fetchHistory(counterpartID)
}

// resetThreadLocked clears all per-conversation state.
func (w *Widget) resetThreadLocked() {
	w.active = nil
	w.activeNew = false
	w.partner = nil
	w.snapshot = nil
	w.live = nil
	w.loading = false
	w.typingSent = false
	w.presence.ScopeTo("")
	w.conn.ScopeTo("")
}

func (w *Widget) fetchHistory(counterpartID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	history, err := w.api.Messages(ctx, w.selfID, counterpartID)

	w.mu.Lock()
	if w.closed || w.active == nil || w.active.UserID != counterpartID {
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.loading = false
		w.mu.Unlock()
		w.log.Warn("chat history fetch failed", "partner_id", counterpartID, "error", err)
		// fall back to the socket path
		w.conn.RequestHistory(counterpartID)
		w.changed()
		return
	}
	msgs := history.Messages
	// the read signal is already on its way, reflect it locally
	markAllRead(msgs, w.selfID)
	w.snapshot = msgs
	w.partner = history.Partner
	w.loading = false
	w.mu.Unlock()
	w.changed()
}

// SendMessage submits a message to the scoped counterpart. The echo comes
// back over the socket as the canonical persisted message, so nothing is
// appended locally.
func (w *Widget) SendMessage(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	w.mu.Lock()
	if w.active == nil {
		w.mu.Unlock()
		return
	}
	to := w.active.UserID
	typing := w.typingSent
	w.typingSent = false
	w.mu.Unlock()

	if typing {
		w.conn.Emit(protocol.StopTyping{From: w.selfID, To: to})
	}
	w.conn.Emit(protocol.SendMessage{
		SenderID:   w.selfID,
		ReceiverID: to,
		Content:    content,
	})
}

// SetTyping signals that the viewer started typing in the active
// conversation. Repeated calls while already signalled are no-ops.
func (w *Widget) SetTyping() {
	w.mu.Lock()
	if w.active == nil || w.typingSent {
		w.mu.Unlock()
		return
	}
	w.typingSent = true
	to := w.active.UserID
	w.mu.Unlock()
	w.conn.Emit(protocol.Typing{From: w.selfID, To: to})
}

// StopTyping clears the viewer's typing signal.
func (w *Widget) StopTyping() {
	w.mu.Lock()
	if w.active == nil || !w.typingSent {
		w.mu.Unlock()
		return
	}
	w.typingSent = false
	to := w.active.UserID
	w.mu.Unlock()
	w.conn.Emit(protocol.StopTyping{From: w.selfID, To: to})
}

// DeleteActiveConversation removes the active conversation on the server
// and drops back to the inbox list.
func (w *Widget) DeleteActiveConversation(ctx context.Context) error {
	w.mu.Lock()
	if w.active == nil {
		w.mu.Unlock()
		return nil
	}
	partnerID := w.active.UserID
	w.mu.Unlock()

	if err := w.api.DeleteConversation(ctx, w.selfID, partnerID); err != nil {
		return err
	}
	w.mu.Lock()
	w.resetThreadLocked()
	w.mu.Unlock()
	w.RefreshInbox()
	w.changed()
	return nil
}

// RefreshInbox refetches the conversation list. Concurrent calls coalesce
// into one in-flight fetch.
func (w *Widget) RefreshInbox() {
	if w.selfID == "" {
		return
	}
	w.mu.Lock()
	if w.refreshing || w.closed {
		w.mu.Unlock()
		return
	}
	w.refreshing = true
	w.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		list, err := w.api.Conversations(ctx, w.selfID)

		w.mu.Lock()
		w.refreshing = false
		if w.closed {
			w.mu.Unlock()
			return
		}
		if err != nil {
			w.mu.Unlock()
			w.log.Warn("chat inbox refresh failed", "error", err)
			return
		}
		w.applyConversationsLocked(list)
		w.mu.Unlock()
		w.changed()
	}()
}

// applyConversationsLocked installs a fresh server inbox snapshot and
// reconciles the active conversation against it. A conversation that
// vanished server-side (deleted from another session) force-closes back to
// the list; a brand-new thread is exempt until the server has seen it once.
func (w *Widget) applyConversationsLocked(list []models.Conversation) {
	w.inbox.apply(list)

	if w.active == nil {
		return
	}
	activeID := w.active.UserID
	if e := w.inbox.find(activeID); e != nil {
		entry := *e
		w.active = &entry
		w.activeNew = false
		// the conversation is on screen, keep its badge at zero
		w.inbox.zeroUnread(activeID)
		return
	}
	if !w.activeNew {
		w.resetThreadLocked()
	}
}

// DismissNotification drops a toast before it expires.
func (w *Widget) DismissNotification(id string) {
	w.mu.Lock()
	removed := w.notes.remove(id)
	w.mu.Unlock()
	if removed {
		w.changed()
	}
}

// OpenNotification opens the conversation a toast points at and clears
// every toast from that sender.
func (w *Widget) OpenNotification(id string) {
	w.mu.Lock()
	var from string
	for _, n := range w.notes.snapshot() {
		if n.ID == id {
			from = n.From
			break
		}
	}
	w.mu.Unlock()
	if from == "" {
		return
	}
	w.OpenWidget(from)
}

func (w *Widget) expireNotification(id string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	removed := w.notes.remove(id)
	w.mu.Unlock()
	if removed {
		w.changed()
	}
}

// handleEvent is the single sink for everything arriving on the socket.
func (w *Widget) handleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.ReceiveMessage:
		w.onReceiveMessage(e.Message)
	case protocol.MessageDelivered:
		w.mu.Lock()
		changed := markDelivered(w.live, e.MessageID)
		if markDelivered(w.snapshot, e.MessageID) {
			changed = true
		}
		w.mu.Unlock()
		if changed {
			w.changed()
		}
	case protocol.AllMessagesRead:
		w.onAllMessagesRead(e.From)
	case protocol.UserOnline:
		w.mu.Lock()
		w.presence.ObserveOnline(e.UserID)
		w.mu.Unlock()
		w.changed()
	case protocol.UserOffline:
		w.mu.Lock()
		w.presence.ObserveOffline(e.UserID, time.Now().UTC())
		w.mu.Unlock()
		w.changed()
	case protocol.Typing:
		w.mu.Lock()
		w.presence.ObserveTyping(e.From)
		w.mu.Unlock()
		w.changed()
	case protocol.StopTyping:
		w.mu.Lock()
		w.presence.ObserveStopTyping(e.From)
		w.mu.Unlock()
		w.changed()
	case protocol.MessagesHistory:
		w.onMessagesHistory(e)
	case protocol.MessageNotification:
		w.onMessageNotification(e)
	}
}

func (w *Widget) onReceiveMessage(msg models.Message) {
	w.mu.Lock()
	inScope := w.active != nil && msg.Between(w.selfID, w.active.UserID)
	if inScope {
		w.live = append(w.live, msg)
		w.presence.ObserveMessage(msg.SenderID)
		if msg.SenderID == w.active.UserID && w.open {
			// the viewer is looking right at it
			markAllRead(w.live, w.selfID)
			markAllRead(w.snapshot, w.selfID)
			w.sendReadSignalLocked(w.active.UserID)
			w.inbox.zeroUnread(w.active.UserID)
		}
	} else if msg.ReceiverID == w.selfID {
		w.notes.push(msg.SenderID, msg.Content, msg.Time)
	}
	w.mu.Unlock()

	if msg.SenderID == w.selfID || msg.ReceiverID == w.selfID {
		w.RefreshInbox()
	}
	w.changed()
}

// onAllMessagesRead applies the aggregate read receipt from the scoped
// counterpart: the local thread flips to read in one pass.
func (w *Widget) onAllMessagesRead(from string) {
	w.mu.Lock()
	if w.active == nil || w.active.UserID != from {
		w.mu.Unlock()
		return
	}
	changed := markAllRead(w.live, w.selfID)
	if markAllRead(w.snapshot, w.selfID) {
		changed = true
	}
	w.mu.Unlock()
	if changed {
		w.changed()
	}
}

// onMessagesHistory installs a socket-delivered history, the fallback for a
// failed REST fetch. It never clobbers a snapshot the REST path already
// produced.
func (w *Widget) onMessagesHistory(e protocol.MessagesHistory) {
	w.mu.Lock()
	if w.active == nil {
		w.mu.Unlock()
		return
	}
	if e.Partner != nil && e.Partner.ID != w.active.UserID {
		w.mu.Unlock()
		return
	}
	if !w.loading && len(w.snapshot) > 0 {
		w.mu.Unlock()
		return
	}
	msgs := e.Messages
	markAllRead(msgs, w.selfID)
	w.snapshot = msgs
	if e.Partner != nil {
		w.partner = e.Partner
	}
	w.loading = false
	w.mu.Unlock()
	w.changed()
}

func (w *Widget) onMessageNotification(e protocol.MessageNotification) {
	if e.To != w.selfID {
		return
	}
	w.mu.Lock()
	viewing := w.active != nil && w.active.UserID == e.From && w.open
	if !viewing {
		w.notes.push(e.From, e.Content, e.Time)
	}
	w.mu.Unlock()
	w.RefreshInbox()
	w.changed()
}

// sendReadSignalLocked emits a read signal for the counterpart unless one
// went out within the debounce window.
func (w *Widget) sendReadSignalLocked(counterpartID string) {
	now := time.Now()
	if last, ok := w.lastRead[counterpartID]; ok && now.Sub(last) < w.readDebounce {
		return
	}
	w.lastRead[counterpartID] = now
	go w.conn.Emit(protocol.MarkAsRead{UserID: w.selfID, ReceiverID: counterpartID})
}

func (w *Widget) changed() {
	if w.onChange != nil {
		w.onChange()
	}
}

// IsOpen reports whether the widget panel is expanded.
func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// IsMinimized reports whether the widget is collapsed to its launcher with
// state preserved.
func (w *Widget) IsMinimized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.minimized
}

// Active returns the conversation on screen, or nil when the inbox list is
// showing.
func (w *Widget) Active() *models.Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	entry := *w.active
	return &entry
}

// Partner returns the scoped counterpart's profile once history resolved it.
func (w *Widget) Partner() *models.Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partner == nil {
		return nil
	}
	p := *w.partner
	return &p
}

// Messages returns the reconciled thread for the active conversation,
// ascending by time with duplicates collapsed.
func (w *Widget) Messages() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Merge(w.snapshot, w.live)
}

// Loading reports whether the active conversation's history is still being
// fetched.
func (w *Widget) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// Presence returns the scoped counterpart's presence state.
func (w *Widget) Presence() PresenceState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.presence.State()
}

// TypingIndicator reports whether the scoped counterpart is typing.
func (w *Widget) TypingIndicator() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.presence.Typing()
}

// Conversations returns the inbox list from the last refresh.
func (w *Widget) Conversations() []models.Conversation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Conversation, len(w.inbox.entries))
	copy(out, w.inbox.entries)
	return out
}

// Unread returns the unread count for one counterpart.
func (w *Widget) Unread(counterpartID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inbox.unreadFor(counterpartID)
}

// TotalUnread is the launcher badge count across all conversations.
func (w *Widget) TotalUnread() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inbox.totalUnread()
}

// Notifications returns the pending toasts, oldest first.
func (w *Widget) Notifications() []Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notes.snapshot()
}

// Connected reports whether the live socket is up.
func (w *Widget) Connected() bool {
	return w.conn.Connected()
}
