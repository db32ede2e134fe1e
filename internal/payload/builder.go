// Package payload turns a Matrix notification into the exact request a push
// provider receives for one device category.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

const (
	countPlaceholder  = "<count>"
	senderPlaceholder = "<sender>"

	defaultAPNSSound = "default"
	androidPriority  = "high"
)

// Options is the platform default content taken from configuration.
type Options struct {
	Title       string
	Body        string
	Sound       string
	Icon        string
	Tag         string
	ChannelID   string
	ClickAction string
	// APNSTopic is the bundle id used for direct APNS delivery.
	APNSTopic string
}

// Builder is stateless apart from its options and safe for concurrent use.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// FCM builds the Firebase message for any category, including Ios targets
// delivered through the FCM APNS bridge.
func (b *Builder) FCM(category push.Category, n *push.Notification, d push.Device) (*messaging.Message, error) {
	switch category {
	case push.Android:
		return b.android(n, d), nil
	case push.AndroidLegacy:
		return b.androidLegacy(n, d)
	case push.Ios:
		return b.iosBridge(n, d)
	case push.Generic:
		return b.generic(n, d), nil
	default:
		return nil, fmt.Errorf("no fcm payload for category %s", category)
	}
}

// APNS builds a direct APNS notification for an Ios target.
func (b *Builder) APNS(n *push.Notification, d push.Device) (*apns2.Notification, error) {
	if b.opts.APNSTopic == "" {
		return nil, fmt.Errorf("apns topic is not configured")
	}
	notification := &apns2.Notification{
		DeviceToken: d.PushKey,
		Topic:       b.opts.APNSTopic,
	}

	if isBackground(n) {
		notification.PushType = apns2.PushTypeBackground
		notification.Priority = apns2.PriorityLow
		notification.Payload = apnspayload.NewPayload().ContentAvailable().ZeroBadge()
		return notification, nil
	}

	p := apnspayload.NewPayload().
		AlertTitle(b.render(b.opts.Title, n, true)).
		AlertBody(b.render(b.opts.Body, n, true)).
		Badge(n.UnreadCount()).
		Sound(defaultAPNSSound).
		MutableContent()
	if n.RoomID != "" {
		p.Custom("room_id", n.RoomID)
	}
	if n.EventID != "" {
		p.Custom("event_id", n.EventID)
	}
	p.Custom("unread_count", n.UnreadCount())

	notification.PushType = apns2.PushTypeAlert
	notification.Priority = apns2.PriorityHigh
	notification.Payload = p
	return notification, nil
}

func (b *Builder) android(n *push.Notification, d push.Device) *messaging.Message {
	msg := &messaging.Message{
		Token:   d.PushKey,
		Android: &messaging.AndroidConfig{Priority: androidPriority},
		APNS:    badgeAPNSConfig(n),
	}
	if !showsAlert(n) {
		return msg
	}

	msg.Notification = &messaging.Notification{
		Title: b.render(b.opts.Title, n, true),
		Body:  b.render(b.opts.Body, n, true),
	}
	msg.Android.Notification = b.androidNotification(d)
	msg.Data = roomData(n)
	return msg
}

func (b *Builder) androidLegacy(n *push.Notification, d push.Device) (*messaging.Message, error) {
	data, err := eventIDOnlyData(n, d)
	if err != nil {
		return nil, err
	}
	return &messaging.Message{
		Token:   d.PushKey,
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: androidPriority},
	}, nil
}

func (b *Builder) iosBridge(n *push.Notification, d push.Device) (*messaging.Message, error) {
	data, err := eventIDOnlyData(n, d)
	if err != nil {
		return nil, err
	}
	msg := &messaging.Message{Token: d.PushKey, Data: data}

	if isBackground(n) {
		zero := 0
		msg.APNS = &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-push-type": "background",
				"apns-priority":  "5",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true, Badge: &zero},
			},
		}
		return msg, nil
	}

	title := b.render(b.opts.Title, n, true)
	body := b.render(b.opts.Body, n, true)
	unread := n.UnreadCount()
	msg.Notification = &messaging.Notification{Title: title, Body: body}
	msg.APNS = &messaging.APNSConfig{
		Headers: map[string]string{
			"apns-push-type": "alert",
			"apns-priority":  "10",
		},
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Alert:          &messaging.ApsAlert{Title: title, Body: body},
				Badge:          &unread,
				Sound:          defaultAPNSSound,
				MutableContent: true,
			},
		},
	}
	return msg, nil
}

// generic never embeds room or event identifiers or the sender: the target's
// platform is unknown, so nothing content-bearing may leave the gateway.
func (b *Builder) generic(n *push.Notification, d push.Device) *messaging.Message {
	msg := &messaging.Message{
		Token:   d.PushKey,
		Android: &messaging.AndroidConfig{Priority: androidPriority},
		APNS:    badgeAPNSConfig(n),
	}
	if n.UnreadCount() == 0 {
		return msg
	}

	msg.Notification = &messaging.Notification{
		Title: b.render(b.opts.Title, n, false),
		Body:  b.render(b.opts.Body, n, false),
	}
	msg.Android.Notification = b.androidNotification(d)
	return msg
}

func (b *Builder) androidNotification(d push.Device) *messaging.AndroidNotification {
	sound := b.opts.Sound
	if d.Tweaks != nil && d.Tweaks.Sound != "" {
		sound = d.Tweaks.Sound
	}
	return &messaging.AndroidNotification{
		Icon:        b.opts.Icon,
		Sound:       sound,
		Tag:         b.opts.Tag,
		ClickAction: b.opts.ClickAction,
		ChannelID:   b.opts.ChannelID,
	}
}

func (b *Builder) render(template string, n *push.Notification, withSender bool) string {
	sender := ""
	if withSender {
		sender = n.SenderDisplayName
		if sender == "" {
			sender = n.Sender
		}
	}
	r := strings.NewReplacer(
		countPlaceholder, strconv.Itoa(n.UnreadCount()),
		senderPlaceholder, sender,
	)
	return strings.TrimSpace(r.Replace(template))
}

func badgeAPNSConfig(n *push.Notification) *messaging.APNSConfig {
	unread := n.UnreadCount()
	return &messaging.APNSConfig{
		Headers: map[string]string{"apns-priority": "10"},
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{Badge: &unread, Sound: defaultAPNSSound},
		},
	}
}

func showsAlert(n *push.Notification) bool {
	return !n.IsBadgeOnly() && n.UnreadCount() > 0
}

func isBackground(n *push.Notification) bool {
	return n.IsBadgeOnly() && n.UnreadCount() == 0
}

func roomData(n *push.Notification) map[string]string {
	data := map[string]string{}
	if n.RoomID != "" {
		data["room_id"] = n.RoomID
	}
	if n.EventID != "" {
		data["event_id"] = n.EventID
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

type counts struct {
	Unread      int `json:"unread"`
	MissedCalls int `json:"missed_calls"`
}

type strippedDevice struct {
	AppID     string           `json:"app_id"`
	PushKey   string           `json:"pushkey"`
	PushKeyTS int64            `json:"pushkey_ts"`
	Data      *push.PusherData `json:"data,omitempty"`
	Tweaks    *push.Tweaks     `json:"tweaks,omitempty"`
}

// eventIDOnlyData flattens the notification into the string map FCM data
// messages carry. Nested values are JSON encoded.
func eventIDOnlyData(n *push.Notification, d push.Device) (map[string]string, error) {
	countsJSON, err := json.Marshal(counts{Unread: n.UnreadCount(), MissedCalls: n.MissedCallCount()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode counts: %w", err)
	}
	devicesJSON, err := json.Marshal([]strippedDevice{{
		AppID:     d.AppID,
		PushKey:   d.PushKey,
		PushKeyTS: d.PushKeyTS,
		Data:      d.Data,
		Tweaks:    d.Tweaks,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode device: %w", err)
	}

	prio := n.Prio
	if prio == "" {
		prio = androidPriority
	}
	data := map[string]string{
		"counts":  string(countsJSON),
		"devices": string(devicesJSON),
		"prio":    prio,
	}
	if n.EventID != "" {
		data["event_id"] = n.EventID
	}
	if n.RoomID != "" {
		data["room_id"] = n.RoomID
	}
	return data, nil
}
