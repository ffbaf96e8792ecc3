// Package notification contains the domain model for the push gateway:
// the notification object posted by a home server and the devices it
// targets, in the wire format of the Matrix push gateway API.
package notification

import "fmt"

// Priority values accepted in the "prio" field. An absent or unknown
// value is treated as high.
const (
	PrioHigh = "high"
	PrioLow  = "low"
)

// Counts carries the caller's unread/missed-call badges. Fields are
// pointers so that "zero" and "absent" stay distinguishable; a missing
// unread count must not clear a device's badge.
type Counts struct {
	Unread      *int `json:"unread,omitempty"`
	MissedCalls *int `json:"missed_calls,omitempty"`
}

// Tweaks are per-device delivery hints set by the user's push rules.
type Tweaks struct {
	Sound     string `json:"sound,omitempty"`
	Highlight bool   `json:"highlight,omitempty"`
}

// Device identifies one push target. AppID routes the device to a
// configured pushkin; Pushkey is the provider-specific token (an APNs
// device token, an FCM registration token, or a Web Push endpoint).
type Device struct {
	AppID     string         `json:"app_id"`
	Pushkey   string         `json:"pushkey"`
	PushkeyTS int64          `json:"pushkey_ts,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Tweaks    *Tweaks        `json:"tweaks,omitempty"`
}

// Notification is the object under the "notification" key of a
// /_matrix/push/v1/notify request. All fields other than Devices are
// optional; Content is passed through opaquely.
type Notification struct {
	EventID           string         `json:"event_id,omitempty"`
	RoomID            string         `json:"room_id,omitempty"`
	Type              string         `json:"type,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	SenderDisplayName string         `json:"sender_display_name,omitempty"`
	RoomName          string         `json:"room_name,omitempty"`
	RoomAlias         string         `json:"room_alias,omitempty"`
	Prio              string         `json:"prio,omitempty"`
	Content           map[string]any `json:"content,omitempty"`
	Counts            *Counts        `json:"counts,omitempty"`
	Devices           []Device       `json:"devices"`
}

// HighPriority reports whether the notification should be delivered with
// high priority. Anything other than an explicit "low" counts as high.
func (n *Notification) HighPriority() bool {
	return n.Prio != PrioLow
}

// Validate checks the structural requirements the gateway enforces before
// dispatching: at least one device, and every device carrying both an
// app_id and a pushkey.
func (n *Notification) Validate() error {
	if len(n.Devices) == 0 {
		return fmt.Errorf("no devices in notification")
	}
	for i := range n.Devices {
		d := &n.Devices[i]
		if d.AppID == "" {
			return fmt.Errorf("device %d missing app_id", i)
		}
		if d.Pushkey == "" {
			return fmt.Errorf("device %d missing pushkey", i)
		}
	}
	return nil
}

// UnreadCount returns the unread badge value and whether one was supplied.
func (n *Notification) UnreadCount() (int, bool) {
	if n.Counts == nil || n.Counts.Unread == nil {
		return 0, false
	}
	return *n.Counts.Unread, true
}

// MissedCallCount returns the missed-call count and whether one was supplied.
func (n *Notification) MissedCallCount() (int, bool) {
	if n.Counts == nil || n.Counts.MissedCalls == nil {
		return 0, false
	}
	return *n.Counts.MissedCalls, true
}
