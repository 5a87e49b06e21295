package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix  = "user:"
	tokenKeyPrefix = "token:"
	stocksSuffix   = ":stocks"
)

// Compile-time check to ensure RedisStore implements UserStore
var _ UserStore = (*RedisStore)(nil)

// RedisStore keeps users in Redis:
//
//	user:<email>         hash {email, token}
//	token:<token>        string -> email
//	user:<email>:stocks  list of symbols, insertion order
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func userKey(email string) string   { return userKeyPrefix + email }
func tokenKey(token string) string  { return tokenKeyPrefix + token }
func stocksKey(email string) string { return userKeyPrefix + email + stocksSuffix }

func (r *RedisStore) FindByToken(ctx context.Context, token string) (*User, error) {
	email, err := r.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return r.FindByEmail(ctx, email)
}

func (r *RedisStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	fields, err := r.client.HGetAll(ctx, userKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}

	stocks, err := r.client.LRange(ctx, stocksKey(email), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup subscriptions: %w", err)
	}
	return &User{Email: fields["email"], Token: fields["token"], SubscribedStocks: stocks}, nil
}

// Create writes the user hash and the token index in one WATCHed
// transaction, so a failed or lost registration leaves nothing behind.
func (r *RedisStore) Create(ctx context.Context, email, token string) (*User, error) {
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, userKey(email)).Result()
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		if n > 0 {
			return ErrUserExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, userKey(email), "email", email, "token", token)
			pipe.Set(ctx, tokenKey(token), email, 0)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, userKey(email))
	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Another registration touched the key between WATCH and EXEC.
		return nil, ErrUserExists
	case errors.Is(err, ErrUserExists):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &User{Email: email, Token: token, SubscribedStocks: []string{}}, nil
}

func (r *RedisStore) Subscriptions(ctx context.Context, email string) ([]string, error) {
	if err := r.ensureUser(ctx, email); err != nil {
		return nil, err
	}
	stocks, err := r.client.LRange(ctx, stocksKey(email), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup subscriptions: %w", err)
	}
	return stocks, nil
}

func (r *RedisStore) AddSubscription(ctx context.Context, email, symbol string) (bool, error) {
	stocks, err := r.Subscriptions(ctx, email)
	if err != nil {
		return false, err
	}
	for _, s := range stocks {
		if s == symbol {
			return false, nil
		}
	}
	if err := r.client.RPush(ctx, stocksKey(email), symbol).Err(); err != nil {
		return false, fmt.Errorf("add subscription: %w", err)
	}
	return true, nil
}

func (r *RedisStore) RemoveSubscription(ctx context.Context, email, symbol string) (bool, error) {
	if err := r.ensureUser(ctx, email); err != nil {
		return false, err
	}
	removed, err := r.client.LRem(ctx, stocksKey(email), 0, symbol).Result()
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	return removed > 0, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) ensureUser(ctx context.Context, email string) error {
	n, err := r.client.Exists(ctx, userKey(email)).Result()
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
