package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/models"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	frame, err := Encode(SendMessage{SenderID: "a", ReceiverID: "b", Content: "hi"})
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.JSONEq(t, `"sendMessage"`, string(env["event"]))
	assert.JSONEq(t, `{"senderId":"a","receiverId":"b","content":"hi"}`, string(env["data"]))
}

func TestDecode_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		SendMessage{SenderID: "a", ReceiverID: "b", Content: "hi"},
		MarkAsRead{UserID: "a", ReceiverID: "b"},
		AllMessagesRead{From: "b"},
		UserOffline{UserID: "b"},
		MessageNotification{To: "a", From: "b", Content: "yo", Time: at},
	}
	for _, ev := range events {
		t.Run(ev.EventName(), func(t *testing.T) {
			frame, err := Encode(ev)
			require.NoError(t, err)
			decoded, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, ev, decoded)
		})
	}
}

func TestDecode_ReceiveMessageCarriesWireFields(t *testing.T) {
	frame := []byte(`{
		"event": "receiveMessage",
		"data": {
			"id": "m1",
			"content": "hello",
			"senderId": "a",
			"receiverId": "b",
			"time": "2026-03-01T12:00:00Z",
			"delivered": true,
			"read": false
		}
	}`)

	decoded, err := Decode(frame)
	require.NoError(t, err)

	rm, ok := decoded.(ReceiveMessage)
	require.True(t, ok)
	assert.Equal(t, "m1", rm.ID)
	assert.Equal(t, "a", rm.SenderID)
	assert.Equal(t, "b", rm.ReceiverID)
	assert.True(t, rm.Delivered)
	assert.False(t, rm.Read)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), rm.Time)
}

func TestDecode_UnknownEventIsNotAnError(t *testing.T) {
	decoded, err := Decode([]byte(`{"event":"somethingNew","data":{"x":1}}`))
	require.NoError(t, err)

	unknown, ok := decoded.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "somethingNew", unknown.Name)
}

func TestDecode_MalformedFrame(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event":"typing","data":"not an object"}`))
	assert.Error(t, err)
}

func TestDecode_MissingPayloadYieldsZeroEvent(t *testing.T) {
	decoded, err := Decode([]byte(`{"event":"typing"}`))
	require.NoError(t, err)
	assert.Equal(t, Typing{}, decoded)
}

func TestEncode_MessagesHistoryOmitsNilPartner(t *testing.T) {
	frame, err := Encode(MessagesHistory{Messages: []models.Message{}})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "partner")
	assert.Contains(t, string(frame), `"messages":[]`)
}
