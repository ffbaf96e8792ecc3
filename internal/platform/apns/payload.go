package apns

import (
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

// maxPayloadBytes is the APNs HTTP/2 payload limit.
const maxPayloadBytes = 4096

// buildEventIDOnlyPayload assembles the silent-push payload used in
// privacy/bandwidth mode: identifiers and counts only, no message content.
func buildEventIDOnlyPayload(n *notification.Notification) map[string]any {
	payload := map[string]any{
		"aps": map[string]any{"content-available": 1},
	}
	if n.EventID != "" {
		payload["event_id"] = n.EventID
	}
	if n.RoomID != "" {
		payload["room_id"] = n.RoomID
	}
	if unread, ok := n.UnreadCount(); ok {
		payload["unread_count"] = unread
	}
	if missed, ok := n.MissedCallCount(); ok {
		payload["missed_calls"] = missed
	}
	return payload
}

// buildFullPayload assembles a visible alert. The device's opted-in
// default_payload is taken as the base and the alert, sound and badge are
// layered on top.
func buildFullPayload(n *notification.Notification, device *notification.Device) map[string]any {
	payload := map[string]any{}
	if defaults, ok := device.Data["default_payload"].(map[string]any); ok {
		payload = clonePayload(defaults)
	}

	aps, ok := payload["aps"].(map[string]any)
	if !ok {
		aps = map[string]any{}
	}

	if locKey, locArgs := alertForEvent(n); locKey != "" {
		alert := map[string]any{"loc-key": locKey}
		if len(locArgs) > 0 {
			alert["loc-args"] = locArgs
		}
		aps["alert"] = alert
	}
	if sound := soundFor(n, device); sound != "" {
		aps["sound"] = sound
	}
	if unread, ok := n.UnreadCount(); ok {
		aps["badge"] = unread
	}
	payload["aps"] = aps

	if n.EventID != "" {
		payload["event_id"] = n.EventID
	}
	if n.RoomID != "" {
		payload["room_id"] = n.RoomID
	}
	return payload
}

// soundFor picks the alert sound: the caller's tweak wins, and a
// highlight without an explicit sound falls back to the default sound.
func soundFor(n *notification.Notification, device *notification.Device) string {
	if device.Tweaks == nil {
		return ""
	}
	if device.Tweaks.Sound != "" {
		return device.Tweaks.Sound
	}
	if device.Tweaks.Highlight {
		return "default"
	}
	return ""
}

// alertForEvent maps the event to a localized alert key with arguments.
// The client app is expected to carry the matching localizations.
func alertForEvent(n *notification.Notification) (string, []any) {
	from := n.SenderDisplayName
	if from == "" {
		from = n.Sender
	}
	room := n.RoomName
	if room == "" {
		room = n.RoomAlias
	}
	body, _ := n.Content["body"].(string)

	switch n.Type {
	case "m.call.invite":
		if from != "" {
			return "VOICE_CALL_FROM_USER", []any{from}
		}
		return "VOICE_CALL", nil

	case "m.room.member":
		membership, _ := n.Content["membership"].(string)
		if membership == "invite" && from != "" {
			if room != "" {
				return "USER_INVITE_TO_NAMED_ROOM", []any{from, room}
			}
			return "USER_INVITE_TO_CHAT", []any{from}
		}

	case "m.room.message", "m.room.encrypted":
		switch {
		case from != "" && room != "" && body != "":
			return "MSG_FROM_USER_IN_ROOM_WITH_CONTENT", []any{from, room, body}
		case from != "" && body != "":
			return "MSG_FROM_USER_WITH_CONTENT", []any{from, body}
		case from != "" && room != "":
			return "MSG_FROM_USER_IN_ROOM", []any{from, room}
		case from != "":
			return "MSG_FROM_USER", []any{from}
		}
	}

	if from != "" {
		return "MSG_FROM_USER", []any{from}
	}
	return "", nil
}
