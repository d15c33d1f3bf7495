package alerting

import (
	"context"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

// Store is the persistence interface for alerts.
//
// Create stores a new alert at version 1. Save replaces an alert only if
// its stored version equals expectedVersion, and bumps the version of a on
// success; otherwise it returns an alert.ErrVersionConflict error and
// leaves the stored record untouched.
type Store interface {
	Create(ctx context.Context, a *alert.Alert) error
	Load(ctx context.Context, id string) (*alert.Alert, bool, error)
	Save(ctx context.Context, a *alert.Alert, expectedVersion int64) error
}
