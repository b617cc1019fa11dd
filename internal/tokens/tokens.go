package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Subjects for cache-backed tokens.
const (
	SubjectTrust = "trust"
)

var ErrNoCredentials = errors.New("stashed credentials expired")

// Cache keeps short-lived tokens and markers in redis. Trust tokens let
// partner apps confirm a session they were handed; the stash holds account
// credentials between account form and payment confirmation.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func tokenKey(userID int64, subject, token string) string {
	return fmt.Sprintf("%d.%s.%s", userID, subject, token)
}

// Issue creates a fresh token for the user under the subject.
func (c *Cache) Issue(ctx context.Context, userID int64, subject string, ttl time.Duration) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	if err := c.rdb.Set(ctx, tokenKey(userID, subject, token), "1", ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Verify reports whether the token is live. It does not consume it.
func (c *Cache) Verify(ctx context.Context, userID int64, subject, token string) (bool, error) {
	if token == "" || strings.ContainsAny(token, ". ") {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, tokenKey(userID, subject, token)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Cache) Delete(ctx context.Context, userID int64, subject, token string) error {
	return c.rdb.Del(ctx, tokenKey(userID, subject, token)).Err()
}

// Allow is a setnx rate-limit marker. The first call inside a window wins;
// later calls are rejected until the marker expires.
func (c *Cache) Allow(ctx context.Context, marker string, window time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "ratelimit:"+marker, "1", window).Result()
}

// StashCredentials holds the chosen username and password until payment
// confirmation triggers directory account creation.
func (c *Cache) StashCredentials(ctx context.Context, hash, username, password string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "stash:"+hash, username+":"+password, ttl).Err()
}

// Credentials returns the stashed pair, or ErrNoCredentials once the stash
// lapsed.
func (c *Cache) Credentials(ctx context.Context, hash string) (username, password string, err error) {
	raw, err := c.rdb.Get(ctx, "stash:"+hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrNoCredentials
	}
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return "", "", ErrNoCredentials
	}
	return parts[0], parts[1], nil
}

func (c *Cache) DropCredentials(ctx context.Context, hash string) error {
	return c.rdb.Del(ctx, "stash:"+hash).Err()
}

// CacheUsernames refreshes the shared username list consumed during signup.
func (c *Cache) CacheUsernames(ctx context.Context, usernames []string, ttl time.Duration) error {
	if err := c.rdb.Del(ctx, "usernames").Err(); err != nil {
		return err
	}
	if len(usernames) == 0 {
		return nil
	}
	members := make([]interface{}, len(usernames))
	for i, u := range usernames {
		members[i] = u
	}
	if err := c.rdb.SAdd(ctx, "usernames", members...).Err(); err != nil {
		return err
	}
	return c.rdb.Expire(ctx, "usernames", ttl).Err()
}

// UsernameTaken consults the cached username list.
func (c *Cache) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return c.rdb.SIsMember(ctx, "usernames", username).Result()
}

// HasUsernameCache reports whether the cached list is populated at all.
func (c *Cache) HasUsernameCache(ctx context.Context) (bool, error) {
	n, err := c.rdb.Exists(ctx, "usernames").Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
