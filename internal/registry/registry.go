// Package registry routes incoming app ids to configured pushkins.
package registry

import (
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

// Registry holds the pushkins built from the startup config. It is
// populated once during service construction and read-only afterwards.
type Registry struct {
	exact    map[string]dispatch.Pushkin
	patterns []dispatch.Pushkin
	all      []dispatch.Pushkin
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		exact:  make(map[string]dispatch.Pushkin),
		logger: logger.With("component", "PushkinRegistry"),
	}
}

// Add registers a pushkin under its configured name. Names without glob
// metacharacters route by exact match; the rest are matched via
// HandlesAppID.
func (r *Registry) Add(p dispatch.Pushkin) {
	if strings.ContainsAny(p.Name(), "*?[") {
		r.patterns = append(r.patterns, p)
	} else {
		r.exact[p.Name()] = p
	}
	r.all = append(r.all, p)
}

// Find resolves an app id to its pushkin. A specific entry wins over
// patterns. Unknown app ids return ok=false: the caller may have other
// gateways configured for them, so they are ignored rather than rejected.
// An app id matching more than one pattern is ambiguous and also ignored.
func (r *Registry) Find(appID string) (dispatch.Pushkin, bool) {
	if p, ok := r.exact[appID]; ok {
		return p, true
	}

	var found dispatch.Pushkin
	for _, p := range r.patterns {
		if !p.HandlesAppID(appID) {
			continue
		}
		if found != nil {
			r.logger.Warn("Ignoring notification for ambiguous app ID", "app_id", appID)
			return nil, false
		}
		found = p
	}
	if found == nil {
		return nil, false
	}
	return found, true
}

// All returns every registered pushkin, in registration order.
func (r *Registry) All() []dispatch.Pushkin {
	return r.all
}

// Shutdown shuts down every registered pushkin.
func (r *Registry) Shutdown() {
	for _, p := range r.all {
		p.Shutdown()
	}
}
