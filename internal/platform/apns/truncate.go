package apns

import (
	"encoding/json"
	"errors"
)

// errBodyTooLong is returned when a payload exceeds the limit and no
// truncatable field remains.
var errBodyTooLong = errors.New("payload too long and cannot be truncated further")

// A choppable identifies a string inside the aps dictionary that is safe
// to shorten: the alert itself, the alert body, or one localization
// argument.
type choppable struct {
	field string // "alert", "alert.body" or "alert.loc-args"
	index int    // loc-args position, when applicable
}

func isTooLong(payload map[string]any, maxLength int) bool {
	encoded, err := json.Marshal(payload)
	if err != nil {
		// Non-encodable payloads are caught again at send time.
		return false
	}
	return len(encoded) > maxLength
}

// truncate shortens the payload's choppable fields, longest first, until
// the JSON encoding fits within maxLength. Whole runes are removed so a
// multi-byte character is never split. The input is not modified.
func truncate(payload map[string]any, maxLength int) (map[string]any, error) {
	payload = clonePayload(payload)

	aps, ok := payload["aps"].(map[string]any)
	if !ok {
		if isTooLong(payload, maxLength) {
			return nil, errBodyTooLong
		}
		return payload, nil
	}

	for isTooLong(payload, maxLength) {
		longest, ok := longestChoppable(aps)
		if !ok {
			return nil, errBodyTooLong
		}
		runes := []rune(choppableGet(aps, longest))
		choppablePut(aps, longest, string(runes[:len(runes)-1]))
	}
	return payload, nil
}

func choppablesFor(aps map[string]any) []choppable {
	switch alert := aps["alert"].(type) {
	case string:
		return []choppable{{field: "alert"}}
	case map[string]any:
		var ret []choppable
		if _, ok := alert["body"].(string); ok {
			ret = append(ret, choppable{field: "alert.body"})
		}
		if args, ok := alert["loc-args"].([]any); ok {
			for i := range args {
				ret = append(ret, choppable{field: "alert.loc-args", index: i})
			}
		}
		return ret
	}
	return nil
}

func choppableGet(aps map[string]any, c choppable) string {
	switch c.field {
	case "alert":
		s, _ := aps["alert"].(string)
		return s
	case "alert.body":
		alert, _ := aps["alert"].(map[string]any)
		s, _ := alert["body"].(string)
		return s
	case "alert.loc-args":
		alert, _ := aps["alert"].(map[string]any)
		args, _ := alert["loc-args"].([]any)
		s, _ := args[c.index].(string)
		return s
	}
	return ""
}

func choppablePut(aps map[string]any, c choppable, val string) {
	switch c.field {
	case "alert":
		aps["alert"] = val
	case "alert.body":
		aps["alert"].(map[string]any)["body"] = val
	case "alert.loc-args":
		aps["alert"].(map[string]any)["loc-args"].([]any)[c.index] = val
	}
}

// longestChoppable returns the choppable with the longest byte encoding,
// skipping those already empty.
func longestChoppable(aps map[string]any) (choppable, bool) {
	var longest choppable
	lengthOfLongest := 0
	for _, c := range choppablesFor(aps) {
		if l := len(choppableGet(aps, c)); l > lengthOfLongest {
			longest = c
			lengthOfLongest = l
		}
	}
	return longest, lengthOfLongest > 0
}

// clonePayload copies the payload deep enough that truncation never
// mutates the caller's maps: the aps dict, its alert dict and the
// loc-args slice are duplicated.
func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	aps, ok := payload["aps"].(map[string]any)
	if !ok {
		return out
	}
	apsCopy := make(map[string]any, len(aps))
	for k, v := range aps {
		apsCopy[k] = v
	}
	if alert, ok := aps["alert"].(map[string]any); ok {
		alertCopy := make(map[string]any, len(alert))
		for k, v := range alert {
			alertCopy[k] = v
		}
		if args, ok := alert["loc-args"].([]any); ok {
			alertCopy["loc-args"] = append([]any(nil), args...)
		}
		apsCopy["alert"] = alertCopy
	}
	out["aps"] = apsCopy
	return out
}
