// Package api exposes the Matrix push gateway HTTP endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// NotifyPath is the push gateway endpoint of the Matrix push gateway API.
const NotifyPath = "/_matrix/push/v1/notify"

// Dispatcher fans a notification out to its devices.
type Dispatcher interface {
	Process(ctx context.Context, requestID string, n *push.Notification) pipeline.DispatchOutcome
}

// Jitter supplies the random pre-dispatch delay and learns from successful
// requests.
type Jitter interface {
	Delay() time.Duration
	RecordSuccess(when time.Time)
}

// JitterObserver records the delay rolled for each request.
type JitterObserver interface {
	ObserveJitter(ctx context.Context, d time.Duration)
}

type NotifyAPI struct {
	Dispatcher Dispatcher
	// Jitter and Observer may be nil.
	Jitter    Jitter
	Observer  JitterObserver
	BodyLimit int64
	Logger    *slog.Logger
}

func NewNotifyAPI(dispatcher Dispatcher, jitter Jitter, observer JitterObserver, bodyLimit int64, logger *slog.Logger) *NotifyAPI {
	return &NotifyAPI{
		Dispatcher: dispatcher,
		Jitter:     jitter,
		Observer:   observer,
		BodyLimit:  bodyLimit,
		Logger:     logger.With("component", "NotifyAPI"),
	}
}

// matrixError is the standard Matrix error body.
type matrixError struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// Notify handles POST /_matrix/push/v1/notify. Any well-formed request gets a
// 200 carrying the rejected push keys, whatever happened to its devices.
func (api *NotifyAPI) Notify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := uuid.NewString()
	logger := api.Logger.With("request_id", requestID)

	body := r.Body
	if api.BodyLimit > 0 {
		body = http.MaxBytesReader(w, r.Body, api.BodyLimit)
	}
	req, err := pipeline.DecodeNotifyRequest(body)
	if err != nil {
		var reqErr *pipeline.RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &pipeline.RequestError{Code: pipeline.ErrCodeBadJSON, Message: err.Error()}
		}
		logger.Info("Rejecting malformed notify request", "errcode", reqErr.Code, "err", reqErr.Message)
		writeJSON(w, reqErr.StatusCode(), matrixError{ErrCode: reqErr.Code, Error: reqErr.Message})
		return
	}

	if !api.wait(ctx, logger) {
		logger.Info("Client went away during jitter delay; notification not dispatched")
		return
	}

	n := req.Notification
	outcome := api.Dispatcher.Process(ctx, requestID, n)
	if outcome.Succeeded() && api.Jitter != nil {
		api.Jitter.RecordSuccess(start)
	}

	logger.Info("Notification processed",
		"event_id", n.EventID,
		"devices", len(n.Devices),
		"rejected", len(outcome.Rejected),
		"duration", time.Since(start),
	)
	writeJSON(w, http.StatusOK, push.NotifyResponse{Rejected: outcome.Rejected})
}

// wait sleeps for the jitter delay. It reports false if ctx ended first.
func (api *NotifyAPI) wait(ctx context.Context, logger *slog.Logger) bool {
	if api.Jitter == nil {
		return true
	}
	delay := api.Jitter.Delay()
	if api.Observer != nil {
		api.Observer.ObserveJitter(ctx, delay)
	}
	if delay <= 0 {
		return true
	}
	logger.Debug("Delaying dispatch", "jitter", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
