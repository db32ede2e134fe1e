package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const providerName = "fcm"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Send performs exactly one delivery attempt. The returned error is nil on
// success, wraps dispatch.ErrTokenRejected when the token is dead and
// dispatch.ErrTransient when a retry may succeed. Any other error is returned
// unclassified.
func (d *Dispatcher) Send(ctx context.Context, msg *messaging.Message) error {
	id, err := d.client.Send(ctx, msg)
	if err == nil {
		d.logger.Debug("FCM accepted message", "message_id", id)
		return nil
	}

	switch {
	case messaging.IsRegistrationTokenNotRegistered(err), messaging.IsSenderIDMismatch(err):
		return dispatch.Rejected(providerName, err)
	case messaging.IsInvalidArgument(err):
		// The token may be fine; the payload we built is not.
		d.logger.Error("FCM rejected message as InvalidArgument", "err", err)
		return fmt.Errorf("fcm invalid argument: %w", err)
	case messaging.IsThirdPartyAuthError(err):
		d.logger.Error("FCM rejected APNS credentials", "err", err)
		return fmt.Errorf("fcm third party auth: %w", err)
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return dispatch.Transient(providerName, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dispatch.Transient(providerName, err)
	}

	// Anything else is a network failure or an unmapped FCM code.
	return dispatch.Transient(providerName, fmt.Errorf("fcm transport failed: %w", err))
}
