package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
	"marketchat/internal/protocol"
)

type fakeAPI struct {
	mu        sync.Mutex
	histories map[string]*models.History
	convs     []models.Conversation
	histErr   error
	convErr   error
	deleted   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{histories: make(map[string]*models.History)}
}

func (a *fakeAPI) Messages(_ context.Context, _, partnerID string) (*models.History, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.histErr != nil {
		return nil, a.histErr
	}
	if h, ok := a.histories[partnerID]; ok {
		msgs := make([]models.Message, len(h.Messages))
		copy(msgs, h.Messages)
		return &models.History{Partner: h.Partner, Messages: msgs}, nil
	}
	return &models.History{Messages: []models.Message{}}, nil
}

func (a *fakeAPI) Conversations(context.Context, string) ([]models.Conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.convErr != nil {
		return nil, a.convErr
	}
	out := make([]models.Conversation, len(a.convs))
	copy(out, a.convs)
	return out, nil
}

func (a *fakeAPI) DeleteConversation(_ context.Context, _, partnerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, partnerID)
	for i, c := range a.convs {
		if c.UserID == partnerID {
			a.convs = append(a.convs[:i], a.convs[i+1:]...)
			break
		}
	}
	return nil
}

func (a *fakeAPI) setConvs(convs []models.Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convs = convs
}

func newTestWidget(t *testing.T, opts Options) (*Widget, *fakeDialer, *fakeAPI) {
	t.Helper()
	dialer := &fakeDialer{}
	api := newFakeAPI()
	if opts.SelfID == "" {
		opts.SelfID = "me"
	}
	opts.API = api
	opts.Dialer = dialer
	opts.SocketURL = "ws://test/ws"
	w := New(opts)
	t.Cleanup(w.Close)
	return w, dialer, api
}

func waitLoaded(t *testing.T, w *Widget) {
	t.Helper()
	require.Eventually(t, func() bool { return !w.Loading() }, 2*time.Second, 5*time.Millisecond)
}

func TestWidget_OpenConversationLoadsHistory(t *testing.T) {
	w, dialer, api := newTestWidget(t, Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api.histories["p1"] = &models.History{
		Partner: &models.Profile{ID: "p1", Names: "Pat"},
		Messages: []models.Message{
			msgAt("m1", "p1", "me", base),
			msgAt("m2", "me", "p1", base.Add(time.Minute)),
		},
	}

	require.NoError(t, w.Connect())
	w.OpenWidget("p1")

	require.NotNil(t, w.Active())
	assert.Equal(t, "p1", w.Active().UserID)
	waitLoaded(t, w)

	msgs := w.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	require.NotNil(t, w.Partner())
	assert.Equal(t, "Pat", w.Partner().Names)

	// opening sends a read signal for the counterpart
	require.Eventually(t, func() bool {
		return len(dialer.last().emittedNamed(protocol.NameMarkAsRead)) == 1
	}, time.Second, 5*time.Millisecond)
	signal := dialer.last().emittedNamed(protocol.NameMarkAsRead)[0].(protocol.MarkAsRead)
	assert.Equal(t, "me", signal.UserID)
	assert.Equal(t, "p1", signal.ReceiverID)
}

func TestWidget_HistoryFetchFailureFallsBackToSocket(t *testing.T) {
	w, dialer, api := newTestWidget(t, Options{})
	api.mu.Lock()
	api.histErr = errors.New("server down")
	api.mu.Unlock()

	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	require.Eventually(t, func() bool {
		return len(dialer.last().emittedNamed(protocol.NameGetHistory)) == 1
	}, time.Second, 5*time.Millisecond)

	// the socket-path history fills the snapshot
	dialer.last().deliver(protocol.MessagesHistory{
		Partner:  &models.Profile{ID: "p1"},
		Messages: []models.Message{msgAt("m1", "p1", "me", time.Now().UTC())},
	})
	require.Eventually(t, func() bool { return len(w.Messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWidget_InScopeMessageAppendsWithoutNotification(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	dialer.last().deliver(protocol.ReceiveMessage{
		Message: msgAt("m1", "p1", "me", time.Now().UTC()),
	})

	require.Eventually(t, func() bool { return len(w.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, w.Notifications())
	// the viewer is looking at the thread, so the message reads immediately
	assert.Equal(t, TickRead, TickFor(w.Messages()[0]))
}

func TestWidget_UnscopedMessageBecomesOneNotification(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dialer.last().deliver(protocol.ReceiveMessage{
		Message: msgAt("m1", "p2", "me", at),
	})
	// the same message also arrives as an out-of-band notification
	dialer.last().deliver(protocol.MessageNotification{
		To: "me", From: "p2", Content: "msg m1", Time: at,
	})

	require.Eventually(t, func() bool { return len(w.Notifications()) > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	notes := w.Notifications()
	require.Len(t, notes, 1, "duplicate events collapse into one toast")
	assert.Equal(t, "p2", notes[0].From)
	assert.Empty(t, w.Messages(), "other conversations do not leak into the open thread")
}

func TestWidget_NotificationExpires(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{NotificationTTL: 200 * time.Millisecond})
	require.NoError(t, w.Connect())

	dialer.last().deliver(protocol.MessageNotification{
		To: "me", From: "p2", Content: "hey", Time: time.Now().UTC(),
	})

	require.Eventually(t, func() bool { return len(w.Notifications()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(w.Notifications()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestWidget_NotificationSuppressedForOpenConversation(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	dialer.last().deliver(protocol.MessageNotification{
		To: "me", From: "p1", Content: "hi", Time: time.Now().UTC(),
	})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, w.Notifications())
}

func TestWidget_AllMessagesReadFlipsThread(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	// minimized: inbound messages land unread
	w.MinimizeWidget()
	dialer.last().deliver(protocol.ReceiveMessage{
		Message: msgAt("m1", "p1", "me", time.Now().UTC()),
	})
	require.Eventually(t, func() bool { return len(w.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TickSent, TickFor(w.Messages()[0]))

	// a read receipt from someone else is ignored
	dialer.last().deliver(protocol.AllMessagesRead{From: "p2"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, TickSent, TickFor(w.Messages()[0]))

	dialer.last().deliver(protocol.AllMessagesRead{From: "p1"})
	require.Eventually(t, func() bool {
		return TickFor(w.Messages()[0]) == TickRead
	}, time.Second, 5*time.Millisecond)
}

func TestWidget_DeliveredReceiptAdvancesTick(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	// own echo comes back over the socket
	dialer.last().deliver(protocol.ReceiveMessage{
		Message: msgAt("m1", "me", "p1", time.Now().UTC()),
	})
	require.Eventually(t, func() bool { return len(w.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, TickSent, TickFor(w.Messages()[0]))

	dialer.last().deliver(protocol.MessageDelivered{MessageID: "m1"})
	require.Eventually(t, func() bool {
		return TickFor(w.Messages()[0]) == TickDelivered
	}, time.Second, 5*time.Millisecond)
}

func TestWidget_SwitchConversationResetsThread(t *testing.T) {
	w, dialer, api := newTestWidget(t, Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api.histories["p1"] = &models.History{
		Partner:  &models.Profile{ID: "p1", Names: "Pat"},
		Messages: []models.Message{msgAt("m1", "p1", "me", base)},
	}

	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)
	require.Len(t, w.Messages(), 1)

	// typing state for p1
	dialer.last().deliver(protocol.Typing{From: "p1"})
	require.Eventually(t, func() bool { return w.TypingIndicator() }, time.Second, 5*time.Millisecond)

	w.OpenConversation("p2")
	waitLoaded(t, w)

	assert.Equal(t, "p2", w.Active().UserID)
	assert.Empty(t, w.Messages(), "previous thread must not bleed through")
	assert.Nil(t, w.Partner())
	assert.False(t, w.TypingIndicator())
	assert.False(t, w.Presence().Known)
}

func TestWidget_StaleConversationForceCloses(t *testing.T) {
	w, _, api := newTestWidget(t, Options{})
	api.setConvs([]models.Conversation{{UserID: "p1", LastMessage: "hi"}})

	require.NoError(t, w.Connect())
	require.Eventually(t, func() bool { return len(w.Conversations()) == 1 }, time.Second, 5*time.Millisecond)

	w.OpenWidget("p1")
	waitLoaded(t, w)
	require.NotNil(t, w.Active())

	// the conversation disappears server-side
	api.setConvs(nil)
	w.RefreshInbox()

	require.Eventually(t, func() bool { return w.Active() == nil }, time.Second, 5*time.Millisecond)
	assert.True(t, w.IsOpen(), "drops to the inbox list, widget stays open")
}

func TestWidget_FreshConversationSurvivesRefresh(t *testing.T) {
	w, _, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())

	// contact-seller path: no conversation exists yet
	w.OpenWidget("seller9")
	waitLoaded(t, w)
	require.NotNil(t, w.Active())

	w.RefreshInbox()
	time.Sleep(100 * time.Millisecond)

	require.NotNil(t, w.Active(), "a thread the server has never seen is not stale")
	assert.Equal(t, "seller9", w.Active().UserID)
}

func TestWidget_UnreadZeroedOnOpen(t *testing.T) {
	w, _, api := newTestWidget(t, Options{})
	api.setConvs([]models.Conversation{
		{UserID: "p1", Unread: 3},
		{UserID: "p2", Unread: 2},
	})

	require.NoError(t, w.Connect())
	require.Eventually(t, func() bool { return len(w.Conversations()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, w.TotalUnread())

	w.OpenWidget("p1")

	assert.Zero(t, w.Unread("p1"), "badge clears before the server confirms")
	assert.Equal(t, 2, w.TotalUnread())
}

func TestWidget_SendMessage(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	w.SetTyping()
	w.SendMessage("  hello there  ")

	sock := dialer.last()
	require.Eventually(t, func() bool {
		return len(sock.emittedNamed(protocol.NameSendMessage)) == 1
	}, time.Second, 5*time.Millisecond)

	sent := sock.emittedNamed(protocol.NameSendMessage)[0].(protocol.SendMessage)
	assert.Equal(t, "me", sent.SenderID)
	assert.Equal(t, "p1", sent.ReceiverID)
	assert.Equal(t, "hello there", sent.Content)
	// sending also cancels the typing signal
	assert.Len(t, sock.emittedNamed(protocol.NameStopTyping), 1)

	w.SendMessage("   ")
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sock.emittedNamed(protocol.NameSendMessage), 1, "blank messages are dropped")
}

func TestWidget_TypingSignalsDeduplicated(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	w.SetTyping()
	w.SetTyping()
	w.StopTyping()
	w.StopTyping()

	sock := dialer.last()
	require.Eventually(t, func() bool {
		return len(sock.emittedNamed(protocol.NameStopTyping)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, sock.emittedNamed(protocol.NameTyping), 1)
}

func TestWidget_ReadSignalDebounced(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{ReadSignalDebounce: time.Hour})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	for i := 0; i < 3; i++ {
		dialer.last().deliver(protocol.ReceiveMessage{
			Message: msgAt(string(rune('a'+i)), "p1", "me", time.Now().UTC()),
		})
	}
	require.Eventually(t, func() bool { return len(w.Messages()) == 3 }, time.Second, 5*time.Millisecond)

	// one signal from opening, the follow-ups are inside the window
	require.Eventually(t, func() bool {
		return len(dialer.last().emittedNamed(protocol.NameMarkAsRead)) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, dialer.last().emittedNamed(protocol.NameMarkAsRead), 1)
}

func TestWidget_MinimizeRestoresActiveConversation(t *testing.T) {
	w, _, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	w.MinimizeWidget()
	assert.False(t, w.IsOpen())
	assert.True(t, w.IsMinimized())
	require.NotNil(t, w.Active(), "minimize keeps the thread")

	w.OpenWidget("")
	assert.True(t, w.IsOpen())
	require.NotNil(t, w.Active())
	assert.Equal(t, "p1", w.Active().UserID)
}

func TestWidget_CloseWidgetDiscardsThread(t *testing.T) {
	w, _, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	w.CloseWidget()

	assert.False(t, w.IsOpen())
	assert.Nil(t, w.Active())
	assert.Empty(t, w.Messages())
}

func TestWidget_DeleteActiveConversation(t *testing.T) {
	w, _, api := newTestWidget(t, Options{})
	api.setConvs([]models.Conversation{{UserID: "p1", LastMessage: "hi"}})

	require.NoError(t, w.Connect())
	w.OpenWidget("p1")
	waitLoaded(t, w)

	require.NoError(t, w.DeleteActiveConversation(context.Background()))

	assert.Nil(t, w.Active())
	api.mu.Lock()
	deleted := append([]string(nil), api.deleted...)
	api.mu.Unlock()
	assert.Equal(t, []string{"p1"}, deleted)
}

func TestWidget_OpenNotificationJumpsToConversation(t *testing.T) {
	w, dialer, _ := newTestWidget(t, Options{})
	require.NoError(t, w.Connect())

	dialer.last().deliver(protocol.MessageNotification{
		To: "me", From: "p7", Content: "ping", Time: time.Now().UTC(),
	})
	require.Eventually(t, func() bool { return len(w.Notifications()) == 1 }, time.Second, 5*time.Millisecond)

	w.OpenNotification(w.Notifications()[0].ID)

	assert.True(t, w.IsOpen())
	require.NotNil(t, w.Active())
	assert.Equal(t, "p7", w.Active().UserID)
	assert.Empty(t, w.Notifications(), "opening clears the sender's toasts")
}

func TestWidget_LoggedOutStaysInert(t *testing.T) {
	dialer := &fakeDialer{}
	w := New(Options{API: newFakeAPI(), Dialer: dialer, SocketURL: "ws://test/ws"})
	t.Cleanup(w.Close)

	require.NoError(t, w.Connect())
	assert.Zero(t, dialer.dials())
	assert.False(t, w.Connected())
}
