package registry_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-gateway/internal/registry"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pkg/notification"
)

type stubPushkin struct {
	name     string
	shutdown bool
}

func (s *stubPushkin) Name() string { return s.name }

func (s *stubPushkin) HandlesAppID(appID string) bool {
	return dispatch.AppIDMatches(s.name, appID)
}

func (s *stubPushkin) DispatchNotification(context.Context, *notification.Notification, *notification.Device) ([]string, error) {
	return nil, nil
}

func (s *stubPushkin) Shutdown() { s.shutdown = true }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_ExactMatch(t *testing.T) {
	r := registry.New(testLogger())
	ios := &stubPushkin{name: "com.example.app.ios"}
	r.Add(ios)

	found, ok := r.Find("com.example.app.ios")
	require.True(t, ok)
	assert.Same(t, ios, found)

	_, ok = r.Find("com.example.app.android")
	assert.False(t, ok, "unknown app ids resolve to nothing")
}

func TestRegistry_PatternMatch(t *testing.T) {
	r := registry.New(testLogger())
	wildcard := &stubPushkin{name: "com.example.*"}
	r.Add(wildcard)

	found, ok := r.Find("com.example.anything")
	require.True(t, ok)
	assert.Same(t, wildcard, found)

	_, ok = r.Find("org.other.app")
	assert.False(t, ok)
}

func TestRegistry_ExactWinsOverPattern(t *testing.T) {
	r := registry.New(testLogger())
	wildcard := &stubPushkin{name: "com.example.*"}
	exact := &stubPushkin{name: "com.example.app"}
	r.Add(wildcard)
	r.Add(exact)

	found, ok := r.Find("com.example.app")
	require.True(t, ok)
	assert.Same(t, exact, found)
}

func TestRegistry_AmbiguousPatternIgnored(t *testing.T) {
	r := registry.New(testLogger())
	r.Add(&stubPushkin{name: "com.example.*"})
	r.Add(&stubPushkin{name: "com.*.app"})

	_, ok := r.Find("com.example.app")
	assert.False(t, ok, "app id matching two patterns must be treated as unroutable")
}

func TestRegistry_Shutdown(t *testing.T) {
	r := registry.New(testLogger())
	a := &stubPushkin{name: "a"}
	b := &stubPushkin{name: "b.*"}
	r.Add(a)
	r.Add(b)

	r.Shutdown()
	assert.True(t, a.shutdown)
	assert.True(t, b.shutdown)
}
