package session

import (
	"context"

	"github.com/example/driver-agent/internal/models"
)

// Flag keys persisted alongside the ride snapshot.
const (
	FlagOnlineIntent = "driverOnlineStatus"
	FlagPushToken    = "fcmToken"
)

// Store persists the in-flight ride snapshot and a few session flags.
// Writes are last-write-wins with no versioning or merge: a stale write
// arriving after a newer one clobbers it. Known limitation, not a bug to
// paper over here.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *models.RideSnapshot) error
	// LoadSnapshot returns (nil, nil) when no snapshot exists.
	LoadSnapshot(ctx context.Context) (*models.RideSnapshot, error)
	ClearSnapshot(ctx context.Context) error

	SetFlag(ctx context.Context, key, value string) error
	// GetFlag returns "" when the flag is unset.
	GetFlag(ctx context.Context, key string) (string, error)

	// ClearAll wipes everything for the session (logout / fatal session
	// failure path).
	ClearAll(ctx context.Context) error
}
