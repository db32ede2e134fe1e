// Package device maps pusher registrations onto the platform categories the
// gateway knows how to build payloads for.
package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// ErrInvalidTarget is wrapped by every classification failure.
var ErrInvalidTarget = errors.New("invalid push target")

const (
	hintAndroid = "android"
	hintIos     = "ios"
)

// Classifier resolves devices to categories. It holds only immutable
// configuration and is safe for concurrent use.
type Classifier struct {
	appID             string
	notificationStyle map[string]struct{}
}

// NewClassifier creates a Classifier. appID is the required app id prefix
// (empty disables the check). notificationAppIDs lists app ids that get
// notification-style Android delivery when they carry no data message hint.
func NewClassifier(appID string, notificationAppIDs []string) *Classifier {
	set := make(map[string]struct{}, len(notificationAppIDs))
	for _, id := range notificationAppIDs {
		set[id] = struct{}{}
	}
	return &Classifier{appID: appID, notificationStyle: set}
}

// Classify returns the category for d, or an error wrapping ErrInvalidTarget.
// The second return value is the app id with the legacy suffix stripped.
func (c *Classifier) Classify(d push.Device) (push.Category, string, error) {
	if d.Data != nil && d.Data.IsMalformed() {
		return push.Unclassifiable, d.AppID, fmt.Errorf("%w: malformed data fields %v", ErrInvalidTarget, d.Data.Malformed)
	}
	if d.Data == nil || d.Data.Format != push.SupportedFormat {
		format := ""
		if d.Data != nil {
			format = d.Data.Format
		}
		return push.Unclassifiable, d.AppID, fmt.Errorf("%w: unsupported format %q", ErrInvalidTarget, format)
	}

	appID, legacy := strings.CutSuffix(d.AppID, push.DataMessageSuffix)
	if c.appID != "" && !strings.HasPrefix(appID, c.appID) {
		return push.Unclassifiable, appID, fmt.Errorf("%w: app id %q not served here", ErrInvalidTarget, d.AppID)
	}
	if legacy {
		return push.AndroidLegacy, appID, nil
	}

	hint := d.Data.DataMessage
	switch {
	case hint == nil:
		if _, ok := c.notificationStyle[appID]; ok {
			return push.Android, appID, nil
		}
		return push.Generic, appID, nil
	case *hint == hintAndroid:
		return push.AndroidLegacy, appID, nil
	case *hint == hintIos:
		return push.Ios, appID, nil
	default:
		return push.Unclassifiable, appID, fmt.Errorf("%w: unknown data_message %q", ErrInvalidTarget, *hint)
	}
}
