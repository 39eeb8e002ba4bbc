package cookiejar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

// Storage persists the contents of a Jar.
type Storage interface {
	Load(ctx context.Context) ([]*protocol.Cookie, error)
	Save(ctx context.Context, cookies []*protocol.Cookie) error
}

// MemoryStorage keeps saved cookies for the life of the process.
type MemoryStorage struct {
	mu      sync.Mutex
	cookies []*protocol.Cookie
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load(ctx context.Context) ([]*protocol.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Cookie, len(s.cookies))
	for i, c := range s.cookies {
		out[i] = c.Clone()
	}
	return out, nil
}

func (s *MemoryStorage) Save(ctx context.Context, cookies []*protocol.Cookie) error {
	saved := make([]*protocol.Cookie, len(cookies))
	for i, c := range cookies {
		saved[i] = c.Clone()
	}
	s.mu.Lock()
	s.cookies = saved
	s.mu.Unlock()
	return nil
}

// RedisStorage keeps a jar in one Redis hash. Each field is a (domain, path)
// scope and holds the cookie as JSON.
type RedisStorage struct {
	client redis.Cmdable
	key    string
}

// NewRedisStorage stores the jar under key.
func NewRedisStorage(client redis.Cmdable, key string) *RedisStorage {
	return &RedisStorage{client: client, key: key}
}

// record is the stored form of a cookie. The max-age of a cookie is folded
// into Expires.
type record struct {
	Domain   string      `json:"domain"`
	Path     string      `json:"path"`
	Pairs    [][2]string `json:"pairs"`
	Expires  *time.Time  `json:"expires,omitempty"`
	HttpOnly bool        `json:"http_only,omitempty"`
	Secure   bool        `json:"secure,omitempty"`
	SameSite string      `json:"same_site,omitempty"`
}

func toRecord(c *protocol.Cookie) record {
	r := record{
		Domain:   c.Domain(),
		Path:     c.Path(),
		HttpOnly: c.HttpOnly(),
		Secure:   c.Secure(),
		SameSite: c.SameSite(),
	}
	for _, name := range c.Names() {
		v, _ := c.Get(name)
		r.Pairs = append(r.Pairs, [2]string{name, v})
	}
	if t, ok := c.ExpiresAt(); ok {
		t = t.UTC()
		r.Expires = &t
	}
	return r
}

func (r record) cookie() *protocol.Cookie {
	c := protocol.NewCookie(r.Domain, r.Path)
	for _, pair := range r.Pairs {
		c.Set(pair[0], pair[1])
	}
	if r.Expires != nil {
		c.SetExpires(*r.Expires)
	}
	c.SetHttpOnly(r.HttpOnly)
	c.SetSecure(r.Secure)
	c.SetSameSite(r.SameSite)
	return c
}

func field(c *protocol.Cookie) string {
	return c.Domain() + "\x00" + c.Path()
}

func (s *RedisStorage) Load(ctx context.Context) ([]*protocol.Cookie, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("loading cookie jar %q: %w", s.key, err)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*protocol.Cookie, 0, len(fields))
	for _, name := range names {
		var r record
		if err := json.Unmarshal([]byte(fields[name]), &r); err != nil {
			return nil, fmt.Errorf("decoding cookie %q of jar %q: %w", name, s.key, err)
		}
		cookies = append(cookies, r.cookie())
	}
	return cookies, nil
}

// Save replaces the hash with cookies in one transaction.
func (s *RedisStorage) Save(ctx context.Context, cookies []*protocol.Cookie) error {
	values := make([]any, 0, 2*len(cookies))
	for _, c := range cookies {
		raw, err := json.Marshal(toRecord(c))
		if err != nil {
			return fmt.Errorf("encoding cookie for %s%s: %w", c.Domain(), c.Path(), err)
		}
		values = append(values, field(c), string(raw))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving cookie jar %q: %w", s.key, err)
	}
	return nil
}
