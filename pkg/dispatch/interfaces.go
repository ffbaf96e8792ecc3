// Package dispatch defines the contract between the notification
// dispatcher and the provider-specific pushkins, together with the error
// taxonomy that separates dead registrations from transient failures.
package dispatch

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

// Pushkin is a provider-bound dispatch worker. Each configured app entry
// yields one Pushkin instance owning its HTTP client, credentials and
// concurrency budget.
type Pushkin interface {
	// Name returns the app id or app id pattern this pushkin was
	// configured under. Used for routing, metrics and logging.
	Name() string

	// HandlesAppID reports whether this pushkin serves the given app id.
	HandlesAppID(appID string) bool

	// DispatchNotification delivers the notification to one device and
	// returns the pushkeys the provider declared dead. A non-nil error
	// marks a transient failure: the caller should retry the whole
	// request later. Rejections are returned as values, never as errors.
	DispatchNotification(ctx context.Context, n *notification.Notification, device *notification.Device) ([]string, error)

	// Shutdown releases the pushkin's resources. Idempotent.
	Shutdown()
}

// TemporaryError marks a failure that is hopefully temporary (provider
// 5xx, rate limiting, network trouble, expired credentials that did not
// recover within the internal retry). The ingress maps it to a 502 so the
// home server retries the request.
type TemporaryError struct {
	msg string
	err error
}

// Temporaryf builds a TemporaryError. The format arguments may include a
// cause via %w, which stays reachable through Unwrap.
func Temporaryf(format string, args ...any) *TemporaryError {
	wrapped := fmt.Errorf(format, args...)
	return &TemporaryError{msg: wrapped.Error(), err: wrapped}
}

func (e *TemporaryError) Error() string { return e.msg }

func (e *TemporaryError) Unwrap() error { return e.err }

// AppIDMatches reports whether an app id matches a configured app entry
// key. Keys without glob metacharacters require an exact match; otherwise
// glob-style matching applies (e.g. "com.example.*").
func AppIDMatches(pattern, appID string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == appID
	}
	ok, err := path.Match(pattern, appID)
	return err == nil && ok
}
