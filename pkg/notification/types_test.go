package notification_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

func TestNotification_Unmarshal(t *testing.T) {
	body := `{
		"event_id": "$3957tyerfgewrf384",
		"room_id": "!slw48wfj34rtnrf:example.com",
		"type": "m.room.message",
		"sender": "@exampleuser:example.com",
		"sender_display_name": "Major Tom",
		"room_name": "Mission Control",
		"prio": "high",
		"content": {"msgtype": "m.text", "body": "I'm floating in a most peculiar way."},
		"counts": {"unread": 2, "missed_calls": 1},
		"devices": [{
			"app_id": "com.example.app.ios",
			"pushkey": "V2h5IG9uIGVhcnRo",
			"pushkey_ts": 12345678,
			"tweaks": {"sound": "bing"}
		}]
	}`

	var n notification.Notification
	require.NoError(t, json.Unmarshal([]byte(body), &n))

	assert.Equal(t, "$3957tyerfgewrf384", n.EventID)
	assert.Equal(t, "m.room.message", n.Type)
	assert.Equal(t, "Major Tom", n.SenderDisplayName)
	require.Len(t, n.Devices, 1)
	assert.Equal(t, "com.example.app.ios", n.Devices[0].AppID)
	require.NotNil(t, n.Devices[0].Tweaks)
	assert.Equal(t, "bing", n.Devices[0].Tweaks.Sound)

	unread, ok := n.UnreadCount()
	require.True(t, ok)
	assert.Equal(t, 2, unread)
	missed, ok := n.MissedCallCount()
	require.True(t, ok)
	assert.Equal(t, 1, missed)
}

func TestNotification_Validate(t *testing.T) {
	valid := notification.Notification{
		Devices: []notification.Device{{AppID: "com.example.app", Pushkey: "abc"}},
	}
	assert.NoError(t, valid.Validate())

	noDevices := notification.Notification{}
	assert.Error(t, noDevices.Validate())

	missingPushkey := notification.Notification{
		Devices: []notification.Device{{AppID: "com.example.app"}},
	}
	assert.Error(t, missingPushkey.Validate())

	missingAppID := notification.Notification{
		Devices: []notification.Device{{Pushkey: "abc"}},
	}
	assert.Error(t, missingAppID.Validate())
}

func TestNotification_HighPriority(t *testing.T) {
	assert.True(t, (&notification.Notification{Prio: "high"}).HighPriority())
	assert.True(t, (&notification.Notification{}).HighPriority(), "absent prio defaults to high")
	assert.False(t, (&notification.Notification{Prio: "low"}).HighPriority())
}

func TestNotification_Counts_Absent(t *testing.T) {
	var n notification.Notification
	_, ok := n.UnreadCount()
	assert.False(t, ok)
	_, ok = n.MissedCallCount()
	assert.False(t, ok)

	// unread: 0 is a real value and distinct from absent.
	zero := 0
	n.Counts = &notification.Counts{Unread: &zero}
	unread, ok := n.UnreadCount()
	require.True(t, ok)
	assert.Equal(t, 0, unread)
}
