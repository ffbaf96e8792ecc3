// Package web provides the pushkin for generic Web Push (RFC 8030) with
// VAPID authentication and aes128gcm content encryption.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-gateway/internal/limiter"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

const (
	// DefaultTTL asks the push service to hold the message briefly; the
	// app fetches fresh state on wake anyway.
	DefaultTTL = 15

	// DefaultMaxConnections bounds in-flight pushes when the config does
	// not say otherwise.
	DefaultMaxConnections = 20
)

// Config holds the per-app settings for a WebPush pushkin. Keys are in
// the base64url form produced by webpush key generators.
type Config struct {
	VapidPrivateKey  string
	VapidPublicKey   string
	VapidContactURI  string
	TTL              int
	AllowedEndpoints []string
	FullPayload      bool
	MaxConnections   int
}

// Pushkin dispatches notifications to arbitrary Web Push endpoints.
type Pushkin struct {
	name        string
	privateKey  string
	publicKey   string
	subscriber  string
	ttl         int
	allowed     []string
	fullPayload bool

	client *http.Client

	limiter *limiter.Limiter
	logger  *slog.Logger
}

// NewPushkin creates a WebPush pushkin from config.
func NewPushkin(name string, cfg Config, client *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Pushkin, error) {
	if cfg.VapidPrivateKey == "" || cfg.VapidPublicKey == "" {
		return nil, fmt.Errorf("webpush pushkin %q: vapid_private_key and vapid_public_key are required", name)
	}
	if cfg.VapidContactURI == "" {
		return nil, fmt.Errorf("webpush pushkin %q: vapid_contact_uri is required", name)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	return &Pushkin{
		name:        name,
		privateKey:  cfg.VapidPrivateKey,
		publicKey:   cfg.VapidPublicKey,
		subscriber:  cfg.VapidContactURI,
		ttl:         ttl,
		allowed:     cfg.AllowedEndpoints,
		fullPayload: cfg.FullPayload,
		client:      client,
		limiter:     limiter.New(int64(maxConns), m.InflightPermits.WithLabelValues(name)),
		logger:      logger.With("component", "WebPushPushkin", "pushkin", name),
	}, nil
}

// Name implements dispatch.Pushkin.
func (p *Pushkin) Name() string { return p.name }

// HandlesAppID implements dispatch.Pushkin.
func (p *Pushkin) HandlesAppID(appID string) bool {
	return dispatch.AppIDMatches(p.name, appID)
}

// Shutdown closes the pushkin's pooled connections. Idempotent.
func (p *Pushkin) Shutdown() {
	p.client.CloseIdleConnections()
}

// DispatchNotification implements dispatch.Pushkin. For WebPush the
// pushkey and the subscription endpoint identify the same registration;
// rejecting the pushkey tells the caller to drop the subscription.
func (p *Pushkin) DispatchNotification(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.Release()

	sub, ok := p.subscriptionFor(device)
	if !ok {
		// Without a usable endpoint and key pair the registration can
		// never be delivered to; tell the caller to forget it.
		return []string{device.Pushkey}, nil
	}

	urgency := webpush.UrgencyNormal
	if n.HighPriority() {
		urgency = webpush.UrgencyHigh
	}

	payload, err := p.payloadFor(n)
	if err != nil {
		return nil, dispatch.Temporaryf("webpush payload encoding: %w", err)
	}

	res, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      p.client,
		Subscriber:      p.subscriber,
		VAPIDPublicKey:  p.publicKey,
		VAPIDPrivateKey: p.privateKey,
		TTL:             p.ttl,
		Urgency:         urgency,
	})
	if err != nil {
		return nil, dispatch.Temporaryf("webpush transport: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusCreated:
		return nil, nil

	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		p.logger.Info("Push service reports dead subscription", "status", res.StatusCode)
		return []string{device.Pushkey}, nil

	case res.StatusCode == http.StatusRequestEntityTooLarge:
		// Debatably a permanent fault for this endpoint, but rejecting
		// would drop the registration over a single oversized payload.
		p.logger.Warn("Push service refused payload as too large", "endpoint", sub.Endpoint)
		return nil, dispatch.Temporaryf("webpush responded 413 (payload too large)")

	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, dispatch.Temporaryf("webpush responded %d", res.StatusCode)

	default:
		p.logger.Error("Push service rejected push; this looks like a gateway misconfiguration",
			"status", res.StatusCode, "endpoint", sub.Endpoint)
		return nil, dispatch.Temporaryf("webpush responded %d", res.StatusCode)
	}
}

// subscriptionFor extracts the subscription from the device data and
// enforces the endpoint allow-list.
func (p *Pushkin) subscriptionFor(device *notification.Device) (*webpush.Subscription, bool) {
	endpoint, _ := device.Data["endpoint"].(string)
	authKey, _ := device.Data["auth"].(string)
	p256dh, _ := device.Data["p256dh"].(string)
	if endpoint == "" || authKey == "" || p256dh == "" {
		p.logger.Warn("Device data is missing endpoint or keys; rejecting registration")
		return nil, false
	}

	if len(p.allowed) > 0 {
		permitted := false
		for _, fragment := range p.allowed {
			if strings.Contains(endpoint, fragment) {
				permitted = true
				break
			}
		}
		if !permitted {
			p.logger.Error("Endpoint does not match allowed_endpoints; rejecting registration",
				"endpoint", endpoint)
			return nil, false
		}
	}

	return &webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			Auth:   authKey,
			P256dh: p256dh,
		},
	}, true
}

type pushEnvelope struct {
	EventID           string         `json:"event_id,omitempty"`
	RoomID            string         `json:"room_id,omitempty"`
	Prio              string         `json:"prio,omitempty"`
	Unread            *int           `json:"unread,omitempty"`
	MissedCalls       *int           `json:"missed_calls,omitempty"`
	Type              string         `json:"type,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	SenderDisplayName string         `json:"sender_display_name,omitempty"`
	RoomName          string         `json:"room_name,omitempty"`
	RoomAlias         string         `json:"room_alias,omitempty"`
	Content           map[string]any `json:"content,omitempty"`
}

// payloadFor builds the cleartext envelope; webpush-go encrypts it per
// RFC 8291 before sending. Identifiers only unless full payloads are
// configured.
func (p *Pushkin) payloadFor(n *notification.Notification) ([]byte, error) {
	env := pushEnvelope{
		EventID: n.EventID,
		RoomID:  n.RoomID,
		Prio:    n.Prio,
	}
	if n.Counts != nil {
		env.Unread = n.Counts.Unread
		env.MissedCalls = n.Counts.MissedCalls
	}
	if p.fullPayload {
		env.Type = n.Type
		env.Sender = n.Sender
		env.SenderDisplayName = n.SenderDisplayName
		env.RoomName = n.RoomName
		env.RoomAlias = n.RoomAlias
		env.Content = n.Content
	}
	return json.Marshal(env)
}
