package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time check to ensure FileStore implements UserStore
var _ UserStore = (*FileStore)(nil)

// FileStore keeps every user in one JSON array on disk. The file is re-read on
// each call so it stays the source of truth; mu only serializes this process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) FindByToken(ctx context.Context, token string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Token == token {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

func (f *FileStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users, err := f.load()
	if err != nil {
		return nil, err
	}
	if i := indexByEmail(users, email); i >= 0 {
		return &users[i], nil
	}
	return nil, ErrUserNotFound
}

func (f *FileStore) Create(ctx context.Context, email, token string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users, err := f.load()
	if err != nil {
		return nil, err
	}
	if indexByEmail(users, email) >= 0 {
		return nil, ErrUserExists
	}

	user := User{Email: email, Token: token, SubscribedStocks: []string{}}
	users = append(users, user)
	if err := f.save(users); err != nil {
		return nil, err
	}
	return &user, nil
}

func (f *FileStore) Subscriptions(ctx context.Context, email string) ([]string, error) {
	user, err := f.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return user.SubscribedStocks, nil
}

func (f *FileStore) AddSubscription(ctx context.Context, email, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users, err := f.load()
	if err != nil {
		return false, err
	}
	i := indexByEmail(users, email)
	if i < 0 {
		return false, ErrUserNotFound
	}
	for _, s := range users[i].SubscribedStocks {
		if s == symbol {
			return false, nil
		}
	}
	users[i].SubscribedStocks = append(users[i].SubscribedStocks, symbol)
	return true, f.save(users)
}

func (f *FileStore) RemoveSubscription(ctx context.Context, email, symbol string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users, err := f.load()
	if err != nil {
		return false, err
	}
	i := indexByEmail(users, email)
	if i < 0 {
		return false, ErrUserNotFound
	}

	kept := users[i].SubscribedStocks[:0]
	for _, s := range users[i].SubscribedStocks {
		if s != symbol {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(users[i].SubscribedStocks) {
		return false, nil
	}
	users[i].SubscribedStocks = kept
	return true, f.save(users)
}

func (f *FileStore) Close() error { return nil }

// load reads the user list, creating an empty file on first use.
func (f *FileStore) load() ([]User, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		if err := os.WriteFile(f.path, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("create users file: %w", err)
		}
		return []User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("decode users file: %w", err)
	}
	for i := range users {
		if users[i].SubscribedStocks == nil {
			users[i].SubscribedStocks = []string{}
		}
	}
	return users, nil
}

func (f *FileStore) save(users []User) error {
	data, err := json.MarshalIndent(users, "", "    ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	return nil
}

func indexByEmail(users []User, email string) int {
	for i := range users {
		if users[i].Email == email {
			return i
		}
	}
	return -1
}
