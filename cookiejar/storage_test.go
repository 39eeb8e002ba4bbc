package cookiejar

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

func TestRecordKeepsAttributes(t *testing.T) {
	expires := time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC)
	c := protocol.NewCookie("example.com", "/app")
	c.Set("a", "1")
	c.Set("b", "x y")
	c.SetExpires(expires)
	c.SetSecure(true)
	c.SetSameSite("Lax")

	back := toRecord(c).cookie()
	if !back.Equal(c) {
		t.Errorf("record changed the cookie: %+v", toRecord(back))
	}
}

func TestRecordFoldsMaxAge(t *testing.T) {
	c := protocol.NewCookie("example.com", "/")
	c.Set("a", "1")
	c.SetMaxAge(60)
	want, _ := c.ExpiresAt()

	r := toRecord(c)
	if r.Expires == nil || !r.Expires.Equal(want) {
		t.Fatalf("Expires = %v, want %v", r.Expires, want)
	}
	if got, ok := r.cookie().ExpiresAt(); !ok || !got.Equal(want) {
		t.Errorf("restored expiry = %v, want %v", got, want)
	}
}

// Set STORMHTTP_REDIS_ADDR to run against a real server.
func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("STORMHTTP_REDIS_ADDR")
	if addr == "" {
		t.Skip("STORMHTTP_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	key := "stormhttp:test:jar:" + t.Name()
	defer rdb.Del(ctx, key)

	storage := NewRedisStorage(rdb, key)
	u := &protocol.URL{Scheme: "http", Host: "example.com", Port: -1, Path: "/"}

	j := New(Config{Storage: storage})
	j.Update(u, setCookies("a=1", "b=2; Path=/b"))
	if err := j.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if n, err := rdb.HLen(ctx, key).Result(); err != nil || n != 2 {
		t.Fatalf("HLen = %d, %v", n, err)
	}

	loaded := New(Config{Storage: storage})
	if err := loaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := values(loaded.CookiesFor(&protocol.URL{Scheme: "http", Host: "example.com", Port: -1, Path: "/b"})); got["a"] != "1" || got["b"] != "2" {
		t.Errorf("loaded %v", got)
	}

	// saving an empty jar clears the hash
	if err := New(Config{Storage: storage}).Save(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := rdb.HLen(ctx, key).Result(); n != 0 {
		t.Errorf("HLen after empty save = %d", n)
	}
}
