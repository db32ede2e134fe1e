// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const providerName = "apns"

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID  string
	TeamID string
	// KeyFile is the path to the .p8 file. P8KeyContent takes precedence when set.
	KeyFile      string
	P8KeyContent string
	// Sandbox selects the development APNs host.
	Sandbox bool
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := loadKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Dispatcher{
		client: client,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

func loadKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.P8KeyContent != "" {
		return token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	}
	if cfg.KeyFile == "" {
		return nil, errors.New("no key file or key content configured")
	}
	return token.AuthKeyFromFile(cfg.KeyFile)
}

// Send performs one delivery attempt over HTTP/2. APNs has no multicast
// endpoint, so every device is its own request.
func (d *Dispatcher) Send(ctx context.Context, n *apns2.Notification) error {
	res, err := d.client.PushWithContext(ctx, n)
	if err != nil {
		return dispatch.Transient(providerName, fmt.Errorf("apns transport failed: %w", err))
	}

	if res.Sent() {
		d.logger.Debug("APNs accepted notification", "apns_id", res.ApnsID)
		return nil
	}

	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	reasonErr := fmt.Errorf("status %d: %s", res.StatusCode, res.Reason)
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return dispatch.Rejected(providerName, reasonErr)
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		return dispatch.Transient(providerName, reasonErr)
	}

	// TopicDisallowed, PayloadEmpty and friends: the token might be fine,
	// but our configuration or payload is wrong.
	d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
	return fmt.Errorf("apns rejected notification: %w", reasonErr)
}
