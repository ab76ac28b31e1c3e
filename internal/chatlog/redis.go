package chatlog

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// The hash tag keeps the counter and the user lists in one cluster slot.
const defaultPrefix = "tenderguide:{chat}"

// appendScript assigns the next id and pushes the entry in one step, so ids
// are never skipped and each list stays sorted by id. ARGV[1] is the entry
// JSON without its id.
var appendScript = redis.NewScript(`
local id = redis.call("INCR", KEYS[1])
redis.call("RPUSH", KEYS[2], '{"id":' .. id .. ',' .. string.sub(ARGV[1], 2))
return id
`)

// storedEntry is Entry minus the id, which the script fills in.
type storedEntry struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"tekst"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps one list per user and a shared id counter.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to addr, which is either host:port or a
// redis://, rediss://, redis-sentinel:// or rediss-sentinel:// URL.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("chatlog: ping redis: %w", err)
	}
	return &RedisStore{client: c, prefix: defaultPrefix, now: time.Now}, nil
}

func (r *RedisStore) counterKey() string { return r.prefix + ":seq" }

func (r *RedisStore) userKey(userID string) string { return r.prefix + ":user:" + userID }

func (r *RedisStore) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.UserID == "" {
		return Entry{}, ErrNoUser
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	b, err := json.Marshal(storedEntry{UserID: e.UserID, Text: e.Text, CreatedAt: e.CreatedAt})
	if err != nil {
		return Entry{}, err
	}
	keys := []string{r.counterKey(), r.userKey(e.UserID)}
	id, err := appendScript.Run(ctx, r.client, keys, string(b)).Int64()
	if err != nil {
		return Entry{}, fmt.Errorf("chatlog: append: %w", err)
	}
	e.ID = id
	return e, nil
}

func (r *RedisStore) History(ctx context.Context, userID string) ([]Entry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	raw, err := r.client.LRange(ctx, r.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("chatlog: history: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("chatlog: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

// parseRedisURL handles single node, cluster (comma separated hosts) and
// sentinel deployments. A value without a scheme is a plain host:port.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		db := strings.TrimPrefix(u.Path, "/")
		if db == "" {
			db = q.Get("db")
		}
		if db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return nil, fmt.Errorf("chatlog: invalid redis db %q", db)
			}
			opts.DB = n
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if db := q.Get("db"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return nil, fmt.Errorf("chatlog: invalid redis db %q", db)
			}
			opts.DB = n
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("chatlog: unsupported redis scheme %q", u.Scheme)
	}
	return opts, nil
}

// Open returns a RedisStore when addr is set and a MemoryStore otherwise.
func Open(ctx context.Context, addr string) (Store, error) {
	if strings.TrimSpace(addr) == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(ctx, addr)
}
