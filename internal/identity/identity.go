// Package identity carries the authenticated station and agent through a
// request. Handlers read it from the context; it is only ever populated from
// a verified token, never from request parameters.
package identity

import (
	"context"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

// Identity is who is acting: an agent working for a station.
type Identity struct {
	Station alert.StationID
	Agent   alert.AgentID
	TokenID string
}

// Actor returns the identity as the audit actor of a mutation.
func (id Identity) Actor() alert.Actor {
	return alert.Actor{Station: id.Station, Agent: id.Agent}
}

// Viewer returns the identity as the viewer of an alert.
func (id Identity) Viewer() alert.Viewer {
	return alert.Viewer{Station: id.Station, Agent: id.Agent}
}

type ctxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached to ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
