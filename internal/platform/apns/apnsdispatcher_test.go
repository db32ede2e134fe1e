package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

type MockAPNSClient struct {
	mock.Mock
}

func (m *MockAPNSClient) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func newTestDispatcher(client APNSClient) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testP8Key(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func TestSend_Internal(t *testing.T) {
	ctx := context.Background()
	notification := &apns2.Notification{DeviceToken: "token-1", Topic: "com.test.app"}

	t.Run("Happy Path - Success", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newTestDispatcher(mockClient)

		mockClient.On("PushWithContext", mock.Anything, mock.MatchedBy(func(n *apns2.Notification) bool {
			return n.DeviceToken == "token-1" && n.Topic == "com.test.app"
		})).Return(&apns2.Response{StatusCode: http.StatusOK}, nil)

		err := dispatcher.Send(ctx, notification)

		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Dead tokens are rejected", func(t *testing.T) {
		for _, reason := range []string{apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic} {
			mockClient := new(MockAPNSClient)
			dispatcher := newTestDispatcher(mockClient)
			mockClient.On("PushWithContext", mock.Anything, mock.Anything).
				Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: reason}, nil)

			err := dispatcher.Send(ctx, notification)

			assert.ErrorIs(t, err, dispatch.ErrTokenRejected, reason)
		}
	})

	t.Run("Throttling and server errors are transient", func(t *testing.T) {
		for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
			mockClient := new(MockAPNSClient)
			dispatcher := newTestDispatcher(mockClient)
			mockClient.On("PushWithContext", mock.Anything, mock.Anything).
				Return(&apns2.Response{StatusCode: status, Reason: apns2.ReasonTooManyRequests}, nil)

			err := dispatcher.Send(ctx, notification)

			assert.ErrorIs(t, err, dispatch.ErrTransient)
			assert.NotErrorIs(t, err, dispatch.ErrTokenRejected)
		}
	})

	t.Run("Transport Failure - Retryable", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newTestDispatcher(mockClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		err := dispatcher.Send(ctx, notification)

		assert.ErrorIs(t, err, dispatch.ErrTransient)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Configuration errors are unclassified", func(t *testing.T) {
		mockClient := new(MockAPNSClient)
		dispatcher := newTestDispatcher(mockClient)
		mockClient.On("PushWithContext", mock.Anything, mock.Anything).
			Return(&apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonTopicDisallowed}, nil)

		err := dispatcher.Send(ctx, notification)

		require.Error(t, err)
		assert.NotErrorIs(t, err, dispatch.ErrTransient)
		assert.NotErrorIs(t, err, dispatch.ErrTokenRejected)
	})
}

func TestNewDispatcher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := testP8Key(t)

	t.Run("Key content selects sandbox host", func(t *testing.T) {
		d, err := NewDispatcher(Config{KeyID: "KEY", TeamID: "TEAM", P8KeyContent: key, Sandbox: true}, logger)
		require.NoError(t, err)
		client, ok := d.client.(*apns2.Client)
		require.True(t, ok)
		assert.Equal(t, apns2.HostDevelopment, client.Host)
	})

	t.Run("Key file selects production host", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "AuthKey.p8")
		require.NoError(t, os.WriteFile(path, []byte(key), 0o600))

		d, err := NewDispatcher(Config{KeyID: "KEY", TeamID: "TEAM", KeyFile: path}, logger)
		require.NoError(t, err)
		client, ok := d.client.(*apns2.Client)
		require.True(t, ok)
		assert.Equal(t, apns2.HostProduction, client.Host)
	})

	t.Run("Bad key fails fast", func(t *testing.T) {
		_, err := NewDispatcher(Config{KeyID: "KEY", TeamID: "TEAM", P8KeyContent: "not a key"}, logger)
		require.Error(t, err)
	})

	t.Run("Missing key", func(t *testing.T) {
		_, err := NewDispatcher(Config{KeyID: "KEY", TeamID: "TEAM"}, logger)
		require.Error(t, err)
	})
}
