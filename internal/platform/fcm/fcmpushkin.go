// Package fcm provides the pushkin for Firebase Cloud Messaging. Both
// the HTTP v1 API (service-account OAuth2) and the legacy API (server
// key) are supported.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/tinywideclouds/go-push-gateway/internal/auth"
	"github.com/tinywideclouds/go-push-gateway/internal/limiter"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

const (
	// DefaultEndpoint is the FCM API host; overridable for tests.
	DefaultEndpoint = "https://fcm.googleapis.com"

	fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

	// tokenRefreshMargin refreshes the OAuth2 access token this long
	// before its reported expiry.
	tokenRefreshMargin = 60 * time.Second

	// DefaultMaxConnections bounds in-flight pushes when the config does
	// not say otherwise.
	DefaultMaxConnections = 20

	maxResponseBytes = 1 << 20
)

// Config holds the per-app settings for an FCM pushkin. Exactly one of
// ServiceAccountFile (HTTP v1) or APIKey (legacy) must be set.
type Config struct {
	ServiceAccountFile string
	APIKey             string
	ProjectID          string
	EventIDOnly        bool
	MaxConnections     int
}

// Pushkin dispatches notifications to FCM, one request per registration
// token.
type Pushkin struct {
	name        string
	endpoint    string
	projectID   string
	apiKey      string // legacy mode when non-empty
	eventIDOnly bool

	tokens *auth.TokenCache // nil in legacy mode
	client *http.Client

	limiter *limiter.Limiter
	logger  *slog.Logger
}

// NewPushkin creates an FCM pushkin from config, parsing the service
// account immediately to fail fast on startup.
func NewPushkin(name string, cfg Config, client *http.Client, m *metrics.Metrics, logger *slog.Logger) (*Pushkin, error) {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	p := &Pushkin{
		name:        name,
		endpoint:    DefaultEndpoint,
		projectID:   cfg.ProjectID,
		apiKey:      cfg.APIKey,
		eventIDOnly: cfg.EventIDOnly,
		client:      client,
		limiter:     limiter.New(int64(maxConns), m.InflightPermits.WithLabelValues(name)),
		logger:      logger.With("component", "FCMPushkin", "pushkin", name),
	}

	switch {
	case cfg.ServiceAccountFile != "":
		raw, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("fcm pushkin %q: failed to read service account: %w", name, err)
		}
		conf, err := google.JWTConfigFromJSON(raw, fcmScope)
		if err != nil {
			return nil, fmt.Errorf("fcm pushkin %q: invalid service account: %w", name, err)
		}
		if p.projectID == "" {
			var account struct {
				ProjectID string `json:"project_id"`
			}
			if err := json.Unmarshal(raw, &account); err == nil {
				p.projectID = account.ProjectID
			}
		}
		if p.projectID == "" {
			return nil, fmt.Errorf("fcm pushkin %q: project_id is required", name)
		}
		p.tokens = auth.NewTokenCache(func(ctx context.Context) (string, time.Time, error) {
			tok, err := conf.TokenSource(ctx).Token()
			if err != nil {
				m.TokenRefreshes.WithLabelValues(name, metrics.RefreshFailed).Inc()
				return "", time.Time{}, err
			}
			m.TokenRefreshes.WithLabelValues(name, metrics.RefreshOK).Inc()
			return tok.AccessToken, tok.Expiry, nil
		}, tokenRefreshMargin)
	case cfg.APIKey != "":
		// Legacy API; no OAuth exchange needed.
	default:
		return nil, fmt.Errorf("fcm pushkin %q: service_account_file or api_key is required", name)
	}

	return p, nil
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

// DispatchNotification implements dispatch.Pushkin.
func (p *Pushkin) DispatchNotification(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.Release()

	if p.apiKey != "" {
		return p.dispatchLegacy(ctx, n, device)
	}
	return p.dispatchV1(ctx, n, device)
}

// --- HTTP v1 API ---

type v1Request struct {
	Message v1Message `json:"message"`
}

type v1Message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data,omitempty"`
	Android v1Android         `json:"android"`
}

type v1Android struct {
	Priority string `json:"priority"`
}

type v1ErrorResponse struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Pushkin) dispatchV1(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error) {
	body, err := json.Marshal(v1Request{Message: v1Message{
		Token:   device.Pushkey,
		Data:    p.dataFor(n),
		Android: v1Android{Priority: androidPriority(n)},
	}})
	if err != nil {
		return nil, dispatch.Temporaryf("fcm payload encoding: %w", err)
	}
	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", p.endpoint, p.projectID)

	for attempt := 0; ; attempt++ {
		accessToken, err := p.tokens.Token(ctx)
		if err != nil {
			return nil, dispatch.Temporaryf("fcm access token: %w", err)
		}

		status, respBody, err := p.post(ctx, url, body, "Bearer "+accessToken)
		if err != nil {
			return nil, dispatch.Temporaryf("fcm transport: %w", err)
		}

		switch {
		case status == http.StatusOK:
			return nil, nil

		case status == http.StatusNotFound:
			p.logger.Info("FCM reports dead registration", "status", status)
			return []string{device.Pushkey}, nil

		case status == http.StatusUnauthorized && attempt == 0:
			p.logger.Info("FCM access token rejected mid-flight; refreshing")
			p.tokens.Invalidate(accessToken)
			continue

		case status == http.StatusBadRequest || status == http.StatusForbidden:
			var parsed v1ErrorResponse
			_ = json.Unmarshal(respBody, &parsed)
			if parsed.Error.Status == "UNREGISTERED" {
				p.logger.Info("FCM reports dead registration", "status", status)
				return []string{device.Pushkey}, nil
			}
			if parsed.Error.Status == "INVALID_ARGUMENT" &&
				strings.Contains(strings.ToLower(parsed.Error.Message), "token") {
				p.logger.Info("FCM rejected registration token as invalid")
				return []string{device.Pushkey}, nil
			}
			p.logger.Error("FCM rejected push; this looks like a gateway misconfiguration",
				"status", status, "error_status", parsed.Error.Status, "message", parsed.Error.Message)
			return nil, dispatch.Temporaryf("fcm responded %d (%s)", status, parsed.Error.Status)

		case status == http.StatusTooManyRequests || status >= 500:
			return nil, dispatch.Temporaryf("fcm responded %d", status)

		default:
			p.logger.Error("FCM returned unexpected status", "status", status)
			return nil, dispatch.Temporaryf("fcm responded %d", status)
		}
	}
}

// --- Legacy API ---

type legacyRequest struct {
	To       string            `json:"to"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type legacyResponse struct {
	Success      int            `json:"success"`
	Failure      int            `json:"failure"`
	CanonicalIDs int            `json:"canonical_ids"`
	Results      []legacyResult `json:"results"`
}

type legacyResult struct {
	MessageID      string `json:"message_id"`
	RegistrationID string `json:"registration_id"`
	Error          string `json:"error"`
}

func (p *Pushkin) dispatchLegacy(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error) {
	body, err := json.Marshal(legacyRequest{
		To:       device.Pushkey,
		Data:     p.dataFor(n),
		Priority: androidPriority(n),
	})
	if err != nil {
		return nil, dispatch.Temporaryf("fcm payload encoding: %w", err)
	}

	status, respBody, err := p.post(ctx, p.endpoint+"/fcm/send", body, "key="+p.apiKey)
	if err != nil {
		return nil, dispatch.Temporaryf("fcm transport: %w", err)
	}

	switch {
	case status == http.StatusOK:
		var parsed legacyResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, dispatch.Temporaryf("fcm response decoding: %w", err)
		}
		if len(parsed.Results) == 0 {
			return nil, nil
		}
		return p.classifyLegacyResult(parsed.Results[0], device)

	case status == http.StatusUnauthorized:
		p.logger.Error("FCM rejected the API key; this looks like a gateway misconfiguration", "status", status)
		return nil, dispatch.Temporaryf("fcm responded %d", status)

	case status == http.StatusBadRequest:
		p.logger.Error("FCM rejected the request body; this looks like a gateway misconfiguration", "status", status)
		return nil, dispatch.Temporaryf("fcm responded %d", status)

	case status == http.StatusTooManyRequests || status >= 500:
		return nil, dispatch.Temporaryf("fcm responded %d", status)

	default:
		p.logger.Error("FCM returned unexpected status", "status", status)
		return nil, dispatch.Temporaryf("fcm responded %d", status)
	}
}

func (p *Pushkin) classifyLegacyResult(result legacyResult, device *notification.Device) ([]string, error) {
	switch result.Error {
	case "":
		// A canonical registration id distinct from the one we pushed to
		// means the key was superseded: report the old key rejected so
		// the caller re-registers with the replacement.
		if result.RegistrationID != "" && result.RegistrationID != device.Pushkey {
			p.logger.Info("FCM reported canonical registration id; rejecting superseded pushkey")
			return []string{device.Pushkey}, nil
		}
		return nil, nil
	case "NotRegistered", "InvalidRegistration":
		p.logger.Info("FCM reports dead registration", "error", result.Error)
		return []string{device.Pushkey}, nil
	case "Unavailable", "InternalServerError":
		return nil, dispatch.Temporaryf("fcm result error %s", result.Error)
	default:
		p.logger.Error("FCM returned unexpected result error", "error", result.Error)
		return nil, dispatch.Temporaryf("fcm result error %s", result.Error)
	}
}

func (p *Pushkin) post(ctx context.Context, url string, body []byte, authorization string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)

	res, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, err
	}
	return res.StatusCode, respBody, nil
}

// dataFor flattens the notification into the string-valued data map FCM
// requires. In event-id-only mode everything but identifiers, counts and
// priority is withheld.
func (p *Pushkin) dataFor(n *notification.Notification) map[string]string {
	data := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set("event_id", n.EventID)
	set("room_id", n.RoomID)
	set("prio", androidPriority(n))
	if unread, ok := n.UnreadCount(); ok {
		data["unread"] = strconv.Itoa(unread)
	}
	if missed, ok := n.MissedCallCount(); ok {
		data["missed_calls"] = strconv.Itoa(missed)
	}
	if p.eventIDOnly {
		return data
	}

	set("type", n.Type)
	set("sender", n.Sender)
	set("sender_display_name", n.SenderDisplayName)
	set("room_name", n.RoomName)
	set("room_alias", n.RoomAlias)
	if len(n.Content) > 0 {
		if encoded, err := json.Marshal(n.Content); err == nil {
			data["content"] = string(encoded)
		}
	}
	return data
}

func androidPriority(n *notification.Notification) string {
	if n.HighPriority() {
		return "high"
	}
	return "normal"
}
