package userstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

const (
	pebbleUserPrefix  = "user/"
	pebbleSettingsKey = "settings"
)

// PebbleStore keeps users and settings in an embedded pebble database.
// Each user lives under a fixed-width hex key so prefix iteration
// enumerates them in id order. mu serializes read-modify-write updates;
// single-key reads and writes go straight to pebble.
type PebbleStore struct {
	db *pebble.DB
	mu sync.Mutex
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Ensure(ctx context.Context) error {
	return ensureNotCanceled(ctx)
}

func (s *PebbleStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return User{}, false, err
	}
	v, closer, err := s.db.Get(userKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	defer closer.Close()

	var u User
	if err := json.Unmarshal(v, &u); err != nil {
		return User{}, false, fmt.Errorf("decode user %d: %w", id, err)
	}
	return u, true, nil
}

func (s *PebbleStore) PutUser(ctx context.Context, u User) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if u.ID == 0 {
		return fmt.Errorf("user id is required")
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %d: %w", u.ID, err)
	}
	return s.db.Set(userKey(u.ID), data, pebble.Sync)
}

func (s *PebbleStore) UpdateUser(ctx context.Context, id int64, fn func(User) User) (User, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return User{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok, err := s.GetUser(ctx, id)
	if err != nil || !ok {
		return User{}, ok, err
	}
	u = fn(u)
	if err := s.PutUser(ctx, u); err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *PebbleStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleUserPrefix),
		UpperBound: []byte(pebbleUserPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var users []User
	for iter.First(); iter.Valid(); iter.Next() {
		var u User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, fmt.Errorf("decode user at %q: %w", iter.Key(), err)
		}
		users = append(users, u)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *PebbleStore) ListBlocked(ctx context.Context) ([]User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	blocked := make([]User, 0, len(users))
	for _, u := range users {
		if u.Blocked {
			blocked = append(blocked, u)
		}
	}
	return blocked, nil
}

func (s *PebbleStore) GetSettings(ctx context.Context) (Settings, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Settings{}, err
	}
	v, closer, err := s.db.Get([]byte(pebbleSettingsKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	defer closer.Close()

	var out Settings
	if err := json.Unmarshal(v, &out); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func (s *PebbleStore) PutSettings(ctx context.Context, settings Settings) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.db.Set([]byte(pebbleSettingsKey), data, pebble.Sync)
}

func (s *PebbleStore) UpdateSettings(ctx context.Context, fn func(Settings) Settings) (Settings, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	out := fn(cur)
	if err := s.PutSettings(ctx, out); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func (s *PebbleStore) Reset(ctx context.Context) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if err := s.db.DeleteRange([]byte(pebbleUserPrefix), []byte(pebbleUserPrefix+"\xff"), pebble.Sync); err != nil {
		return err
	}
	return s.PutSettings(ctx, DefaultSettings())
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func userKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", pebbleUserPrefix, uint64(id)))
}
