// Package push contains the Matrix push gateway wire model and the closed set
// of device categories the gateway can deliver to.
package push

import (
	"bytes"
	"encoding/json"
)

// SupportedFormat is the only pusher data format this gateway accepts.
const SupportedFormat = "event_id_only"

// DataMessageSuffix marks app ids of legacy data-message Android clients.
const DataMessageSuffix = ".data_message"

// NotifyRequest is the body of POST /_matrix/push/v1/notify.
type NotifyRequest struct {
	Notification *Notification `json:"notification"`
}

// NotifyResponse lists the push keys the homeserver should stop using.
type NotifyResponse struct {
	Rejected []string `json:"rejected"`
}

// Notification is a single homeserver event notification and the devices it
// should reach.
type Notification struct {
	EventID           string          `json:"event_id,omitempty"`
	RoomID            string          `json:"room_id,omitempty"`
	Type              string          `json:"type,omitempty"`
	Sender            string          `json:"sender,omitempty"`
	SenderDisplayName string          `json:"sender_display_name,omitempty"`
	RoomName          string          `json:"room_name,omitempty"`
	RoomAlias         string          `json:"room_alias,omitempty"`
	Prio              string          `json:"prio,omitempty"`
	Content           json.RawMessage `json:"content,omitempty"`
	Counts            *Counts         `json:"counts,omitempty"`
	Devices           []Device        `json:"devices"`
}

// Counts carries the badge counters. Absent values read as zero.
type Counts struct {
	Unread      *int `json:"unread,omitempty"`
	MissedCalls *int `json:"missed_calls,omitempty"`
}

// Device is one pusher registration the notification targets.
type Device struct {
	AppID     string      `json:"app_id"`
	PushKey   string      `json:"pushkey"`
	PushKeyTS int64       `json:"pushkey_ts,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Data      *PusherData `json:"data,omitempty"`
	Tweaks    *Tweaks     `json:"tweaks,omitempty"`
}

// Tweaks are the push rule actions the homeserver attached to the event.
type Tweaks struct {
	Sound     string `json:"sound,omitempty"`
	Highlight *bool  `json:"highlight,omitempty"`
}

// PusherData is the data object the client registered with its pusher. The raw
// object is retained so it can be echoed back to legacy clients verbatim.
//
// Decoding never fails on the field types: a wrongly typed field is recorded
// in Malformed so the owning target alone can be rejected.
type PusherData struct {
	URL         string
	Format      string
	DataMessage *string
	// Malformed names the fields that were present with the wrong JSON type,
	// or "data" when the whole value is not an object.
	Malformed []string

	raw json.RawMessage
}

var nullJSON = []byte("null")

func (d *PusherData) UnmarshalJSON(b []byte) error {
	*d = PusherData{raw: append([]byte(nil), bytes.TrimSpace(b)...)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		d.Malformed = []string{"data"}
		return nil
	}

	d.URL, _ = d.stringField(fields, "url")
	d.Format, _ = d.stringField(fields, "format")
	if hint, ok := d.stringField(fields, "data_message"); ok {
		d.DataMessage = &hint
	}
	return nil
}

// stringField decodes fields[name] as a string. ok is false when the field is
// absent, null or malformed.
func (d *PusherData) stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, present := fields[name]
	if !present || bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		d.Malformed = append(d.Malformed, name)
		return "", false
	}
	return v, true
}

// IsMalformed reports whether any field failed to decode.
func (d *PusherData) IsMalformed() bool {
	return len(d.Malformed) > 0
}

func (d PusherData) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	fields := map[string]any{}
	if d.URL != "" {
		fields["url"] = d.URL
	}
	if d.Format != "" {
		fields["format"] = d.Format
	}
	if d.DataMessage != nil {
		fields["data_message"] = *d.DataMessage
	}
	return json.Marshal(fields)
}

// UnreadCount returns the unread counter, defaulting to zero.
func (n *Notification) UnreadCount() int {
	if n.Counts == nil || n.Counts.Unread == nil {
		return 0
	}
	return *n.Counts.Unread
}

// MissedCallCount returns the missed call counter, defaulting to zero.
func (n *Notification) MissedCallCount() int {
	if n.Counts == nil || n.Counts.MissedCalls == nil {
		return 0
	}
	return *n.Counts.MissedCalls
}

// IsBadgeOnly reports whether the notification only updates counters and
// refers to no event.
func (n *Notification) IsBadgeOnly() bool {
	return n.EventID == ""
}
