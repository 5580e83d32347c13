package widget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/models"
)

func msgAt(id, sender, receiver string, t time.Time) models.Message {
	return models.Message{
		ID:         id,
		Content:    "msg " + id,
		SenderID:   sender,
		ReceiverID: receiver,
		Time:       t,
	}
}

func TestMerge_DedupAcrossSources(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	shared := msgAt("m2", "u1", "u2", base.Add(time.Minute))

	snapshot := []models.Message{
		msgAt("m1", "u1", "u2", base),
		shared,
	}
	live := []models.Message{
		shared,
		msgAt("m3", "u2", "u1", base.Add(2*time.Minute)),
	}

	merged := Merge(snapshot, live)

	assert.Len(t, merged, 3)
	assert.Equal(t, "m1", merged[0].ID)
	assert.Equal(t, "m2", merged[1].ID)
	assert.Equal(t, "m3", merged[2].ID)
}

func TestMerge_OrdersByTimeRegardlessOfSource(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// the live buffer holds an older message than the snapshot's newest,
	// which happens when a socket message lands before the REST fetch
	// returns
	snapshot := []models.Message{
		msgAt("a", "u1", "u2", base.Add(5*time.Minute)),
	}
	live := []models.Message{
		msgAt("b", "u2", "u1", base.Add(2*time.Minute)),
		msgAt("c", "u2", "u1", base.Add(9*time.Minute)),
	}

	merged := Merge(snapshot, live)

	assert.Equal(t, []string{"b", "a", "c"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
}

func TestMerge_StableForEqualTimes(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snapshot := []models.Message{msgAt("first", "u1", "u2", at)}
	live := []models.Message{msgAt("second", "u2", "u1", at)}

	merged := Merge(snapshot, live)

	// equal timestamps keep snapshot-before-live order
	assert.Equal(t, "first", merged[0].ID)
	assert.Equal(t, "second", merged[1].ID)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []models.Message{
		msgAt("z", "u1", "u2", base.Add(time.Hour)),
		msgAt("a", "u1", "u2", base),
	}

	_ = Merge(snapshot, nil)

	assert.Equal(t, "z", snapshot[0].ID)
	assert.Equal(t, "a", snapshot[1].ID)
}

func TestMerge_EmptyInputs(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))

	only := []models.Message{msgAt("x", "u1", "u2", time.Now())}
	assert.Len(t, Merge(only, nil), 1)
	assert.Len(t, Merge(nil, only), 1)
}
