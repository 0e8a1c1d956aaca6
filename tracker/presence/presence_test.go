package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

// Set REDIS_ADDR to a disposable Redis to run this.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	p, err := Dial(ctx, addr, os.Getenv("REDIS_PASSWORD"), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer p.Close()

	user := "presence-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { p.Offline(context.Background(), user, directory.RoleOperator) })

	if err := p.Online(ctx, user, directory.RoleOperator); err != nil {
		t.Fatalf("Online failed: %v", err)
	}
	if ok, err := p.IsOnline(ctx, user); err != nil || !ok {
		t.Fatalf("Expected online, got %v, %v", ok, err)
	}
	users, err := p.OnlineByRole(ctx, directory.RoleOperator)
	if err != nil {
		t.Fatalf("OnlineByRole failed: %v", err)
	}
	if !contains(users, user) {
		t.Errorf("Expected %s among %v", user, users)
	}
	if err := p.Heartbeat(ctx, user); err != nil {
		t.Errorf("Heartbeat failed: %v", err)
	}
	if seen, err := p.LastSeen(ctx, user); err != nil || seen.IsZero() {
		t.Errorf("Expected last seen, got %v, %v", seen, err)
	}

	if err := p.Offline(ctx, user, directory.RoleOperator); err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	if ok, _ := p.IsOnline(ctx, user); ok {
		t.Error("Expected offline")
	}
	if err := p.Heartbeat(ctx, user); err == nil {
		t.Error("Heartbeat for an offline user should fail")
	}
}

func TestRedis_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Error("Expected dial to an unused port to fail")
	}
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	p := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), 0)
	defer p.Close()
	if p.ttl != DefaultTTL {
		t.Errorf("Expected %v, got %v", DefaultTTL, p.ttl)
	}
}

func TestNop(t *testing.T) {
	var tr Tracker = Nop{}
	ctx := context.Background()
	if err := tr.Online(ctx, "u", directory.RoleGuardian); err != nil {
		t.Error(err)
	}
	if ok, _ := tr.IsOnline(ctx, "u"); ok {
		t.Error("Nop should never report users online")
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
