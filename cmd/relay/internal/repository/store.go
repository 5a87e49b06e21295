package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is the persisted account record. SubscribedStocks keeps insertion order.
type User struct {
	Email            string   `json:"email"`
	Token            string   `json:"token"`
	SubscribedStocks []string `json:"subscribedStocks"`
}

// UserStore is the relay's view of user persistence.
type UserStore interface {
	FindByToken(ctx context.Context, token string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, email, token string) (*User, error)
	Subscriptions(ctx context.Context, email string) ([]string, error)
	// AddSubscription reports false when the symbol was already present.
	AddSubscription(ctx context.Context, email, symbol string) (bool, error)
	// RemoveSubscription reports false when the symbol was not present.
	RemoveSubscription(ctx context.Context, email, symbol string) (bool, error)
	Close() error
}

// NewToken returns a fresh opaque session token.
func NewToken() string {
	return "token" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
