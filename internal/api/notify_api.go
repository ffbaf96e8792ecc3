// Package api implements the push gateway's HTTP surface: the
// /_matrix/push/v1/notify ingress and the health endpoint.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-gateway/internal/dispatcher"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

// maxRequestSize caps the ingress body at 512 KiB.
const maxRequestSize = 512 * 1024

type notifyRequest struct {
	Notification *notification.Notification `json:"notification"`
}

type notifyResponse struct {
	Rejected []string `json:"rejected"`
}

type errorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// NotifyAPI handles notification pokes from home servers.
type NotifyAPI struct {
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewNotifyAPI creates the ingress handler.
func NewNotifyAPI(d *dispatcher.Dispatcher, m *metrics.Metrics, logger *slog.Logger) *NotifyAPI {
	return &NotifyAPI{
		dispatcher: d,
		metrics:    m,
		logger:     logger.With("component", "NotifyAPI"),
	}
}

// Notify implements POST /_matrix/push/v1/notify. The caller sees exactly
// three outcomes: 200 with the rejected pushkeys, 4xx for a malformed
// request, or 502 when delivery failed transiently and the whole request
// should be retried.
func (a *NotifyAPI) Notify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	log := a.logger.With("request_id", requestID)

	a.metrics.NotificationsReceived.Inc()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("Request body exceeds maximum size")
			a.writeError(w, start, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		log.Warn("Expected JSON request body", "err", err)
		a.writeError(w, start, http.StatusBadRequest, "Expected JSON request body")
		return
	}
	if req.Notification == nil {
		log.Warn("Request missing notification key")
		a.writeError(w, start, http.StatusBadRequest, "Invalid notification: expecting object in 'notification' key")
		return
	}
	if err := req.Notification.Validate(); err != nil {
		log.Warn("Invalid notification", "err", err)
		a.writeError(w, start, http.StatusBadRequest, "Invalid notification: "+err.Error())
		return
	}

	rejected, err := a.dispatcher.Dispatch(r.Context(), req.Notification)
	if err != nil {
		log.Warn("Failed to dispatch notification", "err", err)
		a.writeError(w, start, http.StatusBadGateway, err.Error())
		return
	}

	if len(rejected) > 0 {
		log.Info("Delivered notification with rejected pushkeys", "rejected", len(rejected))
	}
	a.writeJSON(w, start, http.StatusOK, notifyResponse{Rejected: rejected})
}

// Health implements GET /health for orchestrator liveness checks.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *NotifyAPI) writeError(w http.ResponseWriter, start time.Time, status int, msg string) {
	a.writeJSON(w, start, status, errorResponse{ErrCode: "M_UNKNOWN", Error: msg})
}

func (a *NotifyAPI) writeJSON(w http.ResponseWriter, start time.Time, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("Failed to write response", "err", err)
	}
	code := strconv.Itoa(status)
	a.metrics.ResponseCodes.WithLabelValues(code).Inc()
	a.metrics.NotifyDuration.WithLabelValues(code).Observe(time.Since(start).Seconds())
}
