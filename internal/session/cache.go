package session

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"

	"github.com/kagenti/mcp-hub/internal/credentials"
	"github.com/kagenti/mcp-hub/internal/huberrors"
)

// Cache tracks, per downstream session, which upstream server connections
// it has touched - an in-memory sync.Map by default, or a shared Redis
// instance for multi-replica deployments (spec section 9, so a
// multi-replica deployment shares session state instead of each replica
// tracking its own). Adapted from the teacher's internal/session/cache.go;
// Redis failures are tagged with the hub's PERSISTENCE_FAILED kind (spec
// section 7) instead of returned bare, matching settings.Store's own
// persistence-error convention, and the connection string may carry a
// "secret:<name>" credential indirection like any other settings field.
type Cache struct {
	connectionString string
	inmemory         *sync.Map
	extClient        *redis.Client
}

// KeyExists reports whether a session key is present.
func (c *Cache) KeyExists(ctx context.Context, key string) (bool, error) {
	if c.inmemory != nil {
		_, ok := c.inmemory.Load(key)
		return ok, nil
	}
	count, err := c.extClient.Exists(ctx, key).Result()
	if err != nil {
		return false, huberrors.New(huberrors.KindPersistenceFailed, "check session key", err)
	}
	return count > 0, nil
}

// GetSession returns the server-name -> value map recorded for a session.
func (c *Cache) GetSession(ctx context.Context, key string) (map[string]string, error) {
	if c.inmemory != nil {
		val, ok := c.inmemory.Load(key)
		if ok {
			return val.(map[string]string), nil
		}
		return map[string]string{}, nil
	}
	sess, err := c.extClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, huberrors.New(huberrors.KindPersistenceFailed, "load session", err)
	}
	return sess, nil
}

// DeleteSessions removes one or more session keys entirely.
func (c *Cache) DeleteSessions(ctx context.Context, key ...string) error {
	if c.inmemory != nil {
		for _, k := range key {
			c.inmemory.Delete(k)
		}
		return nil
	}
	if err := c.extClient.Del(ctx, key...).Err(); err != nil {
		return huberrors.New(huberrors.KindPersistenceFailed, "delete session", err)
	}
	return nil
}

// AddSession records a per-server value under a session key, merging with
// any existing entry.
func (c *Cache) AddSession(ctx context.Context, key, serverName, value string) (bool, error) {
	if c.inmemory != nil {
		sess, err := c.GetSession(ctx, key)
		if err != nil {
			return false, err
		}
		sess[serverName] = value
		c.inmemory.Store(key, sess)
		return true, nil
	}
	if err := c.extClient.HSet(ctx, key, serverName, value).Err(); err != nil {
		return false, huberrors.New(huberrors.KindPersistenceFailed, "record session", err)
	}
	return true, nil
}

// RemoveServerSession drops one server's entry from a session, leaving the
// session's other entries in place. Nothing in the hub calls it on server
// removal.
func (c *Cache) RemoveServerSession(ctx context.Context, key, serverName string) error {
	if c.inmemory != nil {
		sess, err := c.GetSession(ctx, key)
		if err != nil {
			return err
		}
		delete(sess, serverName)
		c.inmemory.Store(key, sess)
		return nil
	}
	if err := c.extClient.HDel(ctx, key, serverName).Err(); err != nil {
		return huberrors.New(huberrors.KindPersistenceFailed, "remove server from session", err)
	}
	return nil
}

// Close releases the backing Redis connection, if any.
func (c *Cache) Close() error {
	if c.inmemory != nil {
		return nil
	}
	return c.extClient.Close()
}

// NewCache builds a Cache; with no options it is purely in-memory. A
// connection string of the form "secret:<name>" is resolved against the
// hub's mounted credential store before being parsed, so the Redis URL
// (which may embed a password) never needs to sit in the settings document
// in the clear.
func NewCache(ctx context.Context, opts ...func(*Cache)) (*Cache, error) {
	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectionString != "" {
		resolved, err := credentials.Resolve(c.connectionString)
		if err != nil {
			return nil, huberrors.New(huberrors.KindConfigInvalid, "resolve session cache connection string", err)
		}
		parsed, err := redis.ParseURL(resolved)
		if err != nil {
			return nil, huberrors.New(huberrors.KindConfigInvalid, "parse session cache connection string", err)
		}
		c.extClient = redis.NewClient(parsed)
		if err := c.extClient.Ping(ctx).Err(); err != nil {
			return nil, huberrors.New(huberrors.KindConnectFailed, "connect to session cache", err)
		}
		return c, nil
	}
	c.inmemory = &sync.Map{}
	return c, nil
}

// WithConnectionString configures Cache to use Redis at the given URL
// ("redis://<user>:<pass>@host:6379/<db>") instead of an in-memory map.
func WithConnectionString(url string) func(*Cache) {
	return func(c *Cache) {
		c.inmemory = nil
		c.connectionString = url
	}
}
