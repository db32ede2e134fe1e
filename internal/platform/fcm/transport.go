package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// Scopes are the OAuth2 scopes the FCM v1 send endpoint accepts.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase.messaging",
}

// noRetryAfter is longer than the Firebase SDK's two minute retry ceiling. The
// SDK never retries a response carrying it.
const noRetryAfter = "86400"

// SingleAttemptTransport stops the Firebase SDK from retrying on its own:
// every response it would retry gets a Retry-After beyond the SDK's ceiling,
// and transport errors come back as such a 503.
type SingleAttemptTransport struct {
	Base http.RoundTripper
}

func (t *SingleAttemptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return unavailableResponse(req, err), nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set("Retry-After", noRetryAfter)
	}
	return resp, nil
}

type fcmErrorDetail struct {
	Type      string `json:"@type"`
	ErrorCode string `json:"errorCode"`
}

type fcmErrorBody struct {
	Error struct {
		Code    int              `json:"code"`
		Message string           `json:"message"`
		Status  string           `json:"status"`
		Details []fcmErrorDetail `json:"details"`
	} `json:"error"`
}

// unavailableResponse renders err as the FCM v1 UNAVAILABLE error.
func unavailableResponse(req *http.Request, err error) *http.Response {
	var body fcmErrorBody
	body.Error.Code = http.StatusServiceUnavailable
	body.Error.Message = fmt.Sprintf("transport failed: %v", err)
	body.Error.Status = "UNAVAILABLE"
	body.Error.Details = []fcmErrorDetail{{
		Type:      "type.googleapis.com/google.firebase.fcm.v1.FcmError",
		ErrorCode: "UNAVAILABLE",
	}}
	raw, _ := json.Marshal(body)

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable)),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}, "Retry-After": []string{noRetryAfter}},
		Body:          io.NopCloser(strings.NewReader(string(raw))),
		ContentLength: int64(len(raw)),
		Request:       req,
	}
}

// NewHTTPClient builds the authenticated client handed to firebase.NewApp via
// option.WithHTTPClient. Retries stay with the delivery executor.
func NewHTTPClient(ctx context.Context, opts ...option.ClientOption) (*http.Client, error) {
	opts = append([]option.ClientOption{option.WithScopes(Scopes...)}, opts...)
	hc, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM http client: %w", err)
	}
	hc.Transport = &SingleAttemptTransport{Base: hc.Transport}
	return hc, nil
}
