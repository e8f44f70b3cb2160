// Package services selects which inference backend serves a requested
// model: the local backend for installed models, or the system-default
// backend behind the "foundation" sentinel.
package services

import (
	"strings"

	"github.com/osaurus-ai/osaurus/pkg/models"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// FoundationModel is the sentinel model name that addresses the
// system-default service directly.
const FoundationModel = "foundation"

// Target labels which service a request resolved to; it feeds logs and
// metrics.
type Target string

const (
	TargetLocal      Target = "local"
	TargetFoundation Target = "foundation"
)

// Resolution is the outcome of routing one requested model.
type Resolution struct {
	Backend types.Backend
	// EffectiveModel is the canonical name handed to the backend, which may
	// differ from the requested one (tag stripped, or the foundation
	// sentinel substituted).
	EffectiveModel string
	Target         Target
	// Installed is set when the request resolved to a local model.
	Installed *models.Model
}

// Router applies the resolution order: the foundation sentinel first, then
// installed local models, then the system default as a fallback for hosts
// with nothing installed.
type Router struct {
	registry   *models.Registry
	local      types.Backend
	foundation types.Backend
}

// NewRouter wires the router. Either backend may be nil, which marks the
// corresponding service unavailable.
func NewRouter(registry *models.Registry, local, foundation types.Backend) *Router {
	return &Router{registry: registry, local: local, foundation: foundation}
}

// FoundationAvailable reports whether the system-default service can take
// requests.
func (r *Router) FoundationAvailable() bool {
	return r.foundation != nil
}

// HasServices reports whether any service could take any request at all. It
// separates "unknown model" from "nothing to serve with" in error responses.
func (r *Router) HasServices() bool {
	if r.FoundationAvailable() {
		return true
	}
	return r.local != nil && r.registry != nil && r.registry.Len() > 0
}

// Installed returns the installed models, for the listing endpoints.
func (r *Router) Installed() []models.Model {
	if r.registry == nil {
		return nil
	}
	return r.registry.List()
}

// Lookup finds an installed model without routing.
func (r *Router) Lookup(name string) (models.Model, bool) {
	if r.registry == nil {
		return models.Model{}, false
	}
	return r.registry.Resolve(name)
}

// Resolve picks the service for requested. ok is false when no service can
// take the request.
func (r *Router) Resolve(requested string) (res Resolution, ok bool) {
	if strings.EqualFold(strings.TrimSpace(requested), FoundationModel) && r.FoundationAvailable() {
		return Resolution{
			Backend:        r.foundation,
			EffectiveModel: FoundationModel,
			Target:         TargetFoundation,
		}, true
	}

	if r.local != nil && r.registry != nil {
		if m, found := r.registry.Resolve(requested); found {
			return Resolution{
				Backend:        r.local,
				EffectiveModel: m.Name,
				Target:         TargetLocal,
				Installed:      &m,
			}, true
		}
	}

	if (r.registry == nil || r.registry.Len() == 0) && r.FoundationAvailable() {
		return Resolution{
			Backend:        r.foundation,
			EffectiveModel: FoundationModel,
			Target:         TargetFoundation,
		}, true
	}

	return Resolution{}, false
}
