package pipeline_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
)

const validBody = `{
  "notification": {
    "event_id": "$3957tyerfgewrf384",
    "room_id": "!slw48wfj34rtnrf:example.org",
    "type": "m.room.message",
    "sender": "@exampleuser:matrix.org",
    "sender_display_name": "Major Tom",
    "room_name": "Mission Control",
    "prio": "high",
    "content": {"msgtype": "m.text", "body": "I'm floating in a most peculiar way."},
    "counts": {"unread": 2, "missed_calls": 1},
    "devices": [
      {
        "app_id": "org.matrix.matrixConsole.ios",
        "pushkey": "V2h5IG9uIGVhcnRoIGRpZCB5b3UgZGVjb2RlIHRoaXM/",
        "pushkey_ts": 12345678,
        "data": {"format": "event_id_only", "data_message": "ios"},
        "tweaks": {"sound": "bing"}
      }
    ]
  }
}`

func TestDecodeNotifyRequest(t *testing.T) {
	testCases := []struct {
		name         string
		body         string
		expectedCode string
	}{
		{name: "Happy Path - Valid Request", body: validBody},
		{name: "Zero devices", body: `{"notification":{"devices":[]}}`},
		{name: "Failure - Malformed JSON", body: "not-json", expectedCode: pipeline.ErrCodeNotJSON},
		{name: "Failure - Truncated JSON", body: `{"notification":`, expectedCode: pipeline.ErrCodeNotJSON},
		{name: "Failure - Wrong type", body: `{"notification":{"devices":"nope"}}`, expectedCode: pipeline.ErrCodeBadJSON},
		{name: "Failure - Missing notification", body: `{}`, expectedCode: pipeline.ErrCodeMissingParam},
		{name: "Failure - Missing devices", body: `{"notification":{"event_id":"$e"}}`, expectedCode: pipeline.ErrCodeMissingParam},
		{name: "Failure - Missing pushkey", body: `{"notification":{"devices":[{"app_id":"a"}]}}`, expectedCode: pipeline.ErrCodeMissingParam},
		{name: "Failure - Negative unread", body: `{"notification":{"counts":{"unread":-1},"devices":[]}}`, expectedCode: pipeline.ErrCodeBadJSON},
		{name: "Failure - Negative missed calls", body: `{"notification":{"counts":{"missed_calls":-3},"devices":[]}}`, expectedCode: pipeline.ErrCodeBadJSON},
		{name: "Failure - Missing app_id", body: `{"notification":{"devices":[{"pushkey":"k"}]}}`, expectedCode: pipeline.ErrCodeMissingParam},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := pipeline.DecodeNotifyRequest(strings.NewReader(tc.body))

			if tc.expectedCode == "" {
				require.NoError(t, err)
				require.NotNil(t, req.Notification)
				return
			}
			var reqErr *pipeline.RequestError
			require.True(t, errors.As(err, &reqErr), "expected a RequestError, got %v", err)
			assert.Equal(t, tc.expectedCode, reqErr.Code)
			assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode())
		})
	}
}

func TestDecodeNotifyRequest_Fields(t *testing.T) {
	req, err := pipeline.DecodeNotifyRequest(strings.NewReader(validBody))
	require.NoError(t, err)

	n := req.Notification
	assert.Equal(t, "$3957tyerfgewrf384", n.EventID)
	assert.Equal(t, 2, n.UnreadCount())
	assert.Equal(t, 1, n.MissedCallCount())
	require.Len(t, n.Devices, 1)
	d := n.Devices[0]
	assert.Equal(t, int64(12345678), d.PushKeyTS)
	require.NotNil(t, d.Data.DataMessage)
	assert.Equal(t, "ios", *d.Data.DataMessage)
	assert.Equal(t, "bing", d.Tweaks.Sound)
}

func TestDecodeNotifyRequest_TooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	body := http.MaxBytesReader(rec, io.NopCloser(strings.NewReader(validBody)), 16)

	_, err := pipeline.DecodeNotifyRequest(body)

	var reqErr *pipeline.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, pipeline.ErrCodeTooLarge, reqErr.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, reqErr.StatusCode())
}

func TestDecodeNotifyRequest_MalformedDeviceData(t *testing.T) {
	body := `{"notification":{"event_id":"$e","devices":[
		{"app_id":"com.example.app","pushkey":"good","data":{"format":"event_id_only"}},
		{"app_id":"com.example.app","pushkey":"bad","data":{"format":"event_id_only","data_message":7}}
	]}}`

	req, err := pipeline.DecodeNotifyRequest(strings.NewReader(body))

	require.NoError(t, err, "a malformed pusher data object must not fail the request")
	require.Len(t, req.Notification.Devices, 2)
	assert.False(t, req.Notification.Devices[0].Data.IsMalformed())
	assert.Equal(t, []string{"data_message"}, req.Notification.Devices[1].Data.Malformed)
}
