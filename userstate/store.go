package userstate

import "context"

// Store is the persistence boundary for users and settings. Both
// implementations serialize access internally; callers may share one
// Store across goroutines.
type Store interface {
	Ensure(ctx context.Context) error

	GetUser(ctx context.Context, id int64) (User, bool, error)
	PutUser(ctx context.Context, u User) error

	// UpdateUser applies fn to the stored record and persists the
	// result inside the store's exclusive section, so a concurrent
	// writer can never be overwritten by a stale read. The second
	// return is false when no such user exists.
	UpdateUser(ctx context.Context, id int64, fn func(User) User) (User, bool, error)

	ListUsers(ctx context.Context) ([]User, error)
	ListBlocked(ctx context.Context) ([]User, error)

	GetSettings(ctx context.Context) (Settings, error)
	PutSettings(ctx context.Context, s Settings) error

	// UpdateSettings is the read-modify-write counterpart of
	// PutSettings, applied under the same exclusive section.
	UpdateSettings(ctx context.Context, fn func(Settings) Settings) (Settings, error)

	Reset(ctx context.Context) error
	Close() error
}

func ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
