package apns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

func TestAlertForEvent(t *testing.T) {
	testCases := []struct {
		name     string
		n        notification.Notification
		wantKey  string
		wantArgs []any
	}{
		{
			name: "message with sender, room and body",
			n: notification.Notification{
				Type:              "m.room.message",
				SenderDisplayName: "Alice",
				RoomName:          "Ops",
				Content:           map[string]any{"body": "hello"},
			},
			wantKey:  "MSG_FROM_USER_IN_ROOM_WITH_CONTENT",
			wantArgs: []any{"Alice", "Ops", "hello"},
		},
		{
			name: "message without room",
			n: notification.Notification{
				Type:              "m.room.message",
				SenderDisplayName: "Alice",
				Content:           map[string]any{"body": "hello"},
			},
			wantKey:  "MSG_FROM_USER_WITH_CONTENT",
			wantArgs: []any{"Alice", "hello"},
		},
		{
			name: "encrypted message has no body",
			n: notification.Notification{
				Type:              "m.room.encrypted",
				SenderDisplayName: "Alice",
				RoomName:          "Ops",
			},
			wantKey:  "MSG_FROM_USER_IN_ROOM",
			wantArgs: []any{"Alice", "Ops"},
		},
		{
			name: "sender falls back to mxid",
			n: notification.Notification{
				Type:   "m.room.message",
				Sender: "@alice:example.com",
			},
			wantKey:  "MSG_FROM_USER",
			wantArgs: []any{"@alice:example.com"},
		},
		{
			name: "call invite",
			n: notification.Notification{
				Type:              "m.call.invite",
				SenderDisplayName: "Alice",
			},
			wantKey:  "VOICE_CALL_FROM_USER",
			wantArgs: []any{"Alice"},
		},
		{
			name:    "anonymous call invite",
			n:       notification.Notification{Type: "m.call.invite"},
			wantKey: "VOICE_CALL",
		},
		{
			name: "invite to named room",
			n: notification.Notification{
				Type:              "m.room.member",
				SenderDisplayName: "Alice",
				RoomName:          "Ops",
				Content:           map[string]any{"membership": "invite"},
			},
			wantKey:  "USER_INVITE_TO_NAMED_ROOM",
			wantArgs: []any{"Alice", "Ops"},
		},
		{
			name: "invite to chat",
			n: notification.Notification{
				Type:              "m.room.member",
				SenderDisplayName: "Alice",
				Content:           map[string]any{"membership": "invite"},
			},
			wantKey:  "USER_INVITE_TO_CHAT",
			wantArgs: []any{"Alice"},
		},
		{
			name:    "nothing to say",
			n:       notification.Notification{Type: "m.room.message"},
			wantKey: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, args := alertForEvent(&tc.n)
			assert.Equal(t, tc.wantKey, key)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestBuildFullPayload(t *testing.T) {
	unread := 7
	n := &notification.Notification{
		EventID:           "$event",
		RoomID:            "!room",
		Type:              "m.room.message",
		SenderDisplayName: "Alice",
		Content:           map[string]any{"body": "hello"},
		Counts:            &notification.Counts{Unread: &unread},
	}
	device := &notification.Device{
		AppID:   "com.example.app.ios",
		Pushkey: "tok",
		Tweaks:  &notification.Tweaks{Sound: "bing"},
		Data: map[string]any{
			"default_payload": map[string]any{
				"aps":    map[string]any{"mutable-content": 1},
				"custom": "value",
			},
		},
	}

	payload := buildFullPayload(n, device)

	// The default_payload survives as the base.
	assert.Equal(t, "value", payload["custom"])
	aps := payload["aps"].(map[string]any)
	assert.Equal(t, 1, aps["mutable-content"])

	alert := aps["alert"].(map[string]any)
	assert.Equal(t, "MSG_FROM_USER_WITH_CONTENT", alert["loc-key"])
	assert.Equal(t, "bing", aps["sound"])
	assert.Equal(t, 7, aps["badge"])
	assert.Equal(t, "$event", payload["event_id"])
	assert.Equal(t, "!room", payload["room_id"])
}

func TestBuildFullPayload_HighlightDefaultSound(t *testing.T) {
	n := &notification.Notification{Type: "m.room.message", SenderDisplayName: "Alice"}

	quiet := buildFullPayload(n, &notification.Device{})
	_, hasSound := quiet["aps"].(map[string]any)["sound"]
	assert.False(t, hasSound)

	loud := buildFullPayload(n, &notification.Device{
		Tweaks: &notification.Tweaks{Highlight: true},
	})
	assert.Equal(t, "default", loud["aps"].(map[string]any)["sound"])
}

func TestBuildEventIDOnlyPayload(t *testing.T) {
	unread := 0
	n := &notification.Notification{
		EventID: "$event",
		RoomID:  "!room",
		Type:    "m.room.message",
		Content: map[string]any{"body": "secret"},
		Counts:  &notification.Counts{Unread: &unread},
	}

	payload := buildEventIDOnlyPayload(n)
	require.Equal(t, map[string]any{"content-available": 1}, payload["aps"])
	assert.Equal(t, "$event", payload["event_id"])
	assert.Equal(t, 0, payload["unread_count"], "an explicit zero badge must pass through")
	assert.NotContains(t, payload, "content")
}
