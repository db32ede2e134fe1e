package dispatch

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// FCMSender delivers a single built message through Firebase Cloud Messaging.
// Implementations must not retry internally.
type FCMSender interface {
	// Send returns nil on success, an error wrapping ErrTokenRejected when the
	// provider declares the token dead, or an error wrapping ErrTransient for
	// failures worth retrying.
	Send(ctx context.Context, msg *messaging.Message) error
}

// APNSSender delivers a single built notification directly to APNS, with the
// same error contract as FCMSender.
type APNSSender interface {
	Send(ctx context.Context, n *apns2.Notification) error
}

// Recorder receives one observation per device registration, at its terminal
// state. Implementations must be safe for concurrent use.
type Recorder interface {
	PushSucceeded(ctx context.Context, category push.Category)
	PushFailed(ctx context.Context, category push.Category, reason string)
}

// TokenSuppressor remembers push keys a provider recently rejected so they can
// be refused without another provider round trip.
type TokenSuppressor interface {
	IsSuppressed(ctx context.Context, pushKey string) (bool, error)
	Suppress(ctx context.Context, pushKey string) error
}
