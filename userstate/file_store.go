package userstate

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Vico-7/Telegram-chat-bot/internal/fsstore"
)

const usersFileVersion = 1

type usersFile struct {
	Version int    `json:"version"`
	Users   []User `json:"users"`
}

// FileStore keeps users in a single JSON file and settings in a YAML
// file under root. An in-process mutex plus a cross-process advisory
// lock serialize writers; all writes are atomic.
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: strings.TrimSpace(root)}
}

func (s *FileStore) Ensure(ctx context.Context) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsstore.EnsureDir(s.root, 0o700)
}

func (s *FileStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return User{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsersLocked()
	if err != nil {
		return User{}, false, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

func (s *FileStore) PutUser(ctx context.Context, u User) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	if u.ID == 0 {
		return fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath, err := s.stateLockPath()
	if err != nil {
		return err
	}

	return fsstore.WithLock(ctx, lockPath, func() error {
		users, err := s.loadUsersLocked()
		if err != nil {
			return err
		}
		replaced := false
		for i := range users {
			if users[i].ID == u.ID {
				users[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			users = append(users, u)
		}
		return s.saveUsersLocked(users)
	})
}

func (s *FileStore) UpdateUser(ctx context.Context, id int64, fn func(User) User) (User, bool, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return User{}, false, err
	}
	if id == 0 {
		return User{}, false, fmt.Errorf("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath, err := s.stateLockPath()
	if err != nil {
		return User{}, false, err
	}

	var out User
	found := false
	err = fsstore.WithLock(ctx, lockPath, func() error {
		users, err := s.loadUsersLocked()
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].ID == id {
				users[i] = fn(users[i])
				out = users[i]
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		return s.saveUsersLocked(users)
	})
	return out, found, err
}

func (s *FileStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsersLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].RegisteredAt.Before(users[j].RegisteredAt)
	})
	return users, nil
}

func (s *FileStore) ListBlocked(ctx context.Context) ([]User, error) {
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

func (s *FileStore) GetSettings(ctx context.Context) (Settings, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Settings
	ok, err := fsstore.ReadYAML(s.settingsPath(), &out)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return DefaultSettings(), nil
	}
	return out, nil
}

func (s *FileStore) PutSettings(ctx context.Context, settings Settings) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath, err := s.stateLockPath()
	if err != nil {
		return err
	}

	return fsstore.WithLock(ctx, lockPath, func() error {
		return fsstore.WriteYAMLAtomic(s.settingsPath(), settings, fsstore.FileOptions{})
	})
}

func (s *FileStore) UpdateSettings(ctx context.Context, fn func(Settings) Settings) (Settings, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath, err := s.stateLockPath()
	if err != nil {
		return Settings{}, err
	}

	var out Settings
	err = fsstore.WithLock(ctx, lockPath, func() error {
		var cur Settings
		ok, err := fsstore.ReadYAML(s.settingsPath(), &cur)
		if err != nil {
			return err
		}
		if !ok {
			cur = DefaultSettings()
		}
		out = fn(cur)
		return fsstore.WriteYAMLAtomic(s.settingsPath(), out, fsstore.FileOptions{})
	})
	return out, err
}

func (s *FileStore) Reset(ctx context.Context) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath, err := s.stateLockPath()
	if err != nil {
		return err
	}

	return fsstore.WithLock(ctx, lockPath, func() error {
		if err := s.saveUsersLocked(nil); err != nil {
			return err
		}
		return fsstore.WriteYAMLAtomic(s.settingsPath(), DefaultSettings(), fsstore.FileOptions{})
	})
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadUsersLocked() ([]User, error) {
	var f usersFile
	ok, err := fsstore.ReadJSON(s.usersPath(), &f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return f.Users, nil
}

func (s *FileStore) saveUsersLocked(users []User) error {
	f := usersFile{Version: usersFileVersion, Users: users}
	return fsstore.WriteJSONAtomic(s.usersPath(), f, fsstore.FileOptions{})
}

func (s *FileStore) usersPath() string {
	return filepath.Join(s.root, "users.json")
}

func (s *FileStore) settingsPath() string {
	return filepath.Join(s.root, "settings.yaml")
}

func (s *FileStore) stateLockPath() (string, error) {
	return fsstore.BuildLockPath(filepath.Join(s.root, ".fslocks"), "state.users")
}
