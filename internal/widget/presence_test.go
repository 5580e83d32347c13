package widget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_UnknownUntilFirstEvent(t *testing.T) {
	var tr Tracker
	tr.ScopeTo("partner")

	assert.False(t, tr.State().Known)

	tr.ObserveOnline("partner")
	assert.True(t, tr.State().Known)
	assert.True(t, tr.State().Online)
}

func TestTracker_IgnoresOtherUsers(t *testing.T) {
	var tr Tracker
	tr.ScopeTo("partner")

	tr.ObserveOnline("stranger")
	tr.ObserveTyping("stranger")

	assert.False(t, tr.State().Known)
	assert.False(t, tr.Typing())
}

func TestTracker_OfflineRecordsLastSeen(t *testing.T) {
	var tr Tracker
	tr.ScopeTo("partner")
	tr.ObserveOnline("partner")
	tr.ObserveTyping("partner")

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.ObserveOffline("partner", seen)

	st := tr.State()
	assert.True(t, st.Known)
	assert.False(t, st.Online)
	assert.Equal(t, seen, st.LastSeen)
	assert.False(t, tr.Typing(), "going offline clears typing")
}

func TestTracker_MessageClearsTyping(t *testing.T) {
	var tr Tracker
	tr.ScopeTo("partner")
	tr.ObserveTyping("partner")
	assert.True(t, tr.Typing())

	tr.ObserveMessage("partner")
	assert.False(t, tr.Typing())
}

func TestTracker_RescopeResetsEverything(t *testing.T) {
	var tr Tracker
	tr.ScopeTo("partner")
	tr.ObserveOnline("partner")
	tr.ObserveTyping("partner")

	tr.ScopeTo("other")

	assert.False(t, tr.State().Known)
	assert.False(t, tr.Typing())

	// events for the old scope no longer land
	tr.ObserveOnline("partner")
	assert.False(t, tr.State().Known)
}

func TestTracker_EmptyScopeIgnoresAll(t *testing.T) {
	var tr Tracker

	tr.ObserveOnline("")
	tr.ObserveTyping("")

	assert.False(t, tr.State().Known)
	assert.False(t, tr.Typing())
}
