// Package apns provides the pushkin for the Apple Push Notification
// service.
package apns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-push-gateway/internal/limiter"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

// PlatformSandbox selects the APNs development environment; anything else
// means production.
const PlatformSandbox = "sandbox"

// DefaultMaxConnections bounds in-flight pushes when the config does not
// say otherwise.
const DefaultMaxConnections = 20

// tokenRefreshGrace treats a provider token issued this recently as
// fresh: a 403 against it means the credentials are wrong, not expired,
// and concurrent dispatches that all saw the same expiry share one
// regeneration.
const tokenRefreshGrace = 10 * time.Second

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the per-app settings for an APNs pushkin. Authentication
// is either certificate-based (CertFile) or token-based (KeyFile, KeyID,
// TeamID); exactly one of the two must be configured.
type Config struct {
	Topic          string
	Platform       string
	CertFile       string
	KeyFile        string
	KeyID          string
	TeamID         string
	EventIDOnly    bool
	MaxConnections int
}

// Pushkin dispatches notifications to APNs over HTTP/2.
type Pushkin struct {
	name        string
	topic       string
	eventIDOnly bool

	client APNSClient
	// token is set for provider-token auth; apns2 refreshes the signed
	// JWT under its own lock before each push.
	token      *token.Token
	httpClient *http.Client

	limiter *limiter.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPushkin creates an APNs pushkin from config, loading and validating
// the credentials immediately to fail fast on startup.
func NewPushkin(name string, cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Pushkin, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("apns pushkin %q: topic is required", name)
	}

	var client *apns2.Client
	var providerToken *token.Token
	switch {
	case cfg.CertFile != "":
		cert, err := certificate.FromPemFile(cfg.CertFile, "")
		if err != nil {
			return nil, fmt.Errorf("apns pushkin %q: failed to load certificate: %w", name, err)
		}
		client = apns2.NewClient(cert)
	case cfg.KeyFile != "":
		if cfg.KeyID == "" || cfg.TeamID == "" {
			return nil, fmt.Errorf("apns pushkin %q: key_id and team_id are required with keyfile", name)
		}
		authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("apns pushkin %q: failed to load p8 key: %w", name, err)
		}
		providerToken = &token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		}
		client = apns2.NewTokenClient(providerToken)
	default:
		return nil, fmt.Errorf("apns pushkin %q: certfile or keyfile is required", name)
	}

	if cfg.Platform == PlatformSandbox {
		client.Development()
	} else {
		client.Production()
	}

	p := NewPushkinWithClient(name, cfg, client, m, logger)
	p.token = providerToken
	p.httpClient = client.HTTPClient
	return p, nil
}

// NewPushkinWithClient wires a caller-supplied client, bypassing
// credential loading.
func NewPushkinWithClient(name string, cfg Config, client APNSClient, m *metrics.Metrics, logger *slog.Logger) *Pushkin {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	return &Pushkin{
		name:        name,
		topic:       cfg.Topic,
		eventIDOnly: cfg.EventIDOnly,
		client:      client,
		limiter:     limiter.New(int64(maxConns), m.InflightPermits.WithLabelValues(name)),
		metrics:     m,
		logger:      logger.With("component", "APNSPushkin", "pushkin", name),
	}
}

// Name implements dispatch.Pushkin.
func (p *Pushkin) Name() string { return p.name }

// HandlesAppID implements dispatch.Pushkin.
func (p *Pushkin) HandlesAppID(appID string) bool {
	return dispatch.AppIDMatches(p.name, appID)
}

// Shutdown closes the pushkin's pooled connections. Idempotent.
func (p *Pushkin) Shutdown() {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
}

// DispatchNotification sends the notification to one device and
// classifies the APNs response. A dead registration is reported by
// returning the pushkey; transient trouble is returned as an error.
func (p *Pushkin) DispatchNotification(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.Release()

	payload, pushType, err := p.payloadFor(n, device)
	if err != nil {
		p.logger.Error("Failed to build APNs payload; check app configuration", "err", err)
		return nil, dispatch.Temporaryf("apns payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, dispatch.Temporaryf("apns payload encoding: %w", err)
	}

	priority := apns2.PriorityHigh
	if !n.HighPriority() {
		priority = apns2.PriorityLow
	}

	notif := &apns2.Notification{
		DeviceToken: device.Pushkey,
		Topic:       p.topic,
		Payload:     body,
		Priority:    priority,
		PushType:    pushType,
	}

	for attempt := 0; ; attempt++ {
		res, err := p.client.PushWithContext(ctx, notif)
		if err != nil {
			return nil, dispatch.Temporaryf("apns transport: %w", err)
		}

		switch {
		case res.StatusCode == http.StatusOK:
			return nil, nil

		case res.StatusCode == http.StatusGone,
			res.StatusCode == http.StatusBadRequest &&
				(res.Reason == apns2.ReasonBadDeviceToken || res.Reason == apns2.ReasonUnregistered):
			p.logger.Info("APNs reports dead device registration", "reason", res.Reason)
			return []string{device.Pushkey}, nil

		case res.StatusCode == http.StatusForbidden &&
			res.Reason == apns2.ReasonExpiredProviderToken &&
			p.token != nil && attempt == 0:
			p.logger.Info("APNs provider token expired mid-flight; regenerating")
			if err := p.regenerateToken(); err != nil {
				return nil, dispatch.Temporaryf("apns provider token refresh: %w", err)
			}
			continue

		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			return nil, dispatch.Temporaryf("apns responded %d (%s)", res.StatusCode, res.Reason)

		default:
			// Remaining 4xx codes point at our configuration (bad topic,
			// oversized payload, disallowed push type), not the device.
			p.logger.Error("APNs rejected push; this looks like a gateway misconfiguration",
				"status", res.StatusCode, "reason", res.Reason)
			return nil, dispatch.Temporaryf("apns responded %d (%s)", res.StatusCode, res.Reason)
		}
	}
}

func (p *Pushkin) regenerateToken() error {
	p.token.Lock()
	defer p.token.Unlock()
	// A dispatch that queued behind the lock may find the token already
	// regenerated by whoever got there first.
	if p.token.IssuedAt != 0 && time.Since(time.Unix(p.token.IssuedAt, 0)) < tokenRefreshGrace {
		return nil
	}
	if _, err := p.token.Generate(); err != nil {
		p.metrics.TokenRefreshes.WithLabelValues(p.name, metrics.RefreshFailed).Inc()
		return err
	}
	p.metrics.TokenRefreshes.WithLabelValues(p.name, metrics.RefreshOK).Inc()
	return nil
}

func (p *Pushkin) payloadFor(n *notification.Notification, device *notification.Device) (map[string]any, apns2.EPushType, error) {
	if p.eventIDOnly {
		return buildEventIDOnlyPayload(n), apns2.PushTypeBackground, nil
	}
	payload, err := truncate(buildFullPayload(n, device), maxPayloadBytes)
	if err != nil {
		return nil, "", err
	}
	return payload, apns2.PushTypeAlert, nil
}
