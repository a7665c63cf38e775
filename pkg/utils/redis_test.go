package utils

import (
	"context"
	"testing"
	"time"
)

func TestClaimScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if claimScript == nil || releaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestClaim_RejectsBadArguments(t *testing.T) {
	if _, err := Claim(context.Background(), nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := Release(context.Background(), nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfig_Options(t *testing.T) {
	o := RedisConfig{Addr: "localhost:6379", DB: 2, PoolSize: 5}.options()
	if o.PoolSize != 5 || o.DB != 2 || o.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected options: %+v", o)
	}
	if o := (RedisConfig{Addr: "x:1"}).options(); o.PoolSize != 20 {
		t.Fatalf("expected default pool size, got %d", o.PoolSize)
	}
}
