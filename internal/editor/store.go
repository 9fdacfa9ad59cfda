package editor

import (
	"context"
	"time"
)

// Store keeps sessions between requests. Lock gives one caller exclusive
// write access to a session; a second caller gets ErrLocked until the
// returned release func runs.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (func(), error)
	Locked(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	defaultSessionTTL = 24 * time.Hour
	lockTTL           = 2 * time.Minute
)
