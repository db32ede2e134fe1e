// Package pipeline contains the core notification processing components:
// request decoding, the per-target delivery executor and the fan-out
// processor that aggregates their results.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Matrix error codes returned for unusable requests.
const (
	ErrCodeNotJSON      = "M_NOT_JSON"
	ErrCodeBadJSON      = "M_BAD_JSON"
	ErrCodeMissingParam = "M_MISSING_PARAM"
	ErrCodeTooLarge     = "M_TOO_LARGE"
)

// RequestError is a request-level failure rendered as a Matrix error body.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode is the HTTP status the error maps to.
func (e *RequestError) StatusCode() int {
	if e.Code == ErrCodeTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// DecodeNotifyRequest reads and validates a notify body. Every error it
// returns is a *RequestError.
func DecodeNotifyRequest(body io.Reader) (*push.NotifyRequest, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &RequestError{
				Code:    ErrCodeTooLarge,
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, &RequestError{Code: ErrCodeBadJSON, Message: fmt.Sprintf("failed to read request body: %v", err)}
	}

	var req push.NotifyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &RequestError{Code: ErrCodeBadJSON, Message: err.Error()}
		}
		return nil, &RequestError{Code: ErrCodeNotJSON, Message: err.Error()}
	}

	if err := validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func validate(req *push.NotifyRequest) error {
	if req.Notification == nil {
		return &RequestError{Code: ErrCodeMissingParam, Message: "missing field `notification`"}
	}
	if req.Notification.Devices == nil {
		return &RequestError{Code: ErrCodeMissingParam, Message: "missing field `notification.devices`"}
	}
	if c := req.Notification.Counts; c != nil {
		if (c.Unread != nil && *c.Unread < 0) || (c.MissedCalls != nil && *c.MissedCalls < 0) {
			return &RequestError{Code: ErrCodeBadJSON, Message: "`counts` values must not be negative"}
		}
	}
	for i, d := range req.Notification.Devices {
		if d.AppID == "" {
			return &RequestError{Code: ErrCodeMissingParam, Message: fmt.Sprintf("missing field `app_id` in device %d", i)}
		}
		if d.PushKey == "" {
			return &RequestError{Code: ErrCodeMissingParam, Message: fmt.Sprintf("missing field `pushkey` in device %d", i)}
		}
	}
	return nil
}
