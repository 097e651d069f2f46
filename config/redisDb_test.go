package config

import (
	"testing"
	"time"
)

// Without REDIS_ADDRESS the redis helpers must degrade to no-ops so the
// service runs single-instance with in-process coordination only.
func TestRedisHelpersNoOpWithoutRedis(t *testing.T) {
	if GetRedisDB() != nil {
		t.Skip("redis client connected; nil-safety not observable")
	}

	if err := SetRedisObject("tinysync:test", map[string]string{"a": "b"}, time.Minute); err != nil {
		t.Fatalf("SetRedisObject: %v", err)
	}
	var out map[string]string
	found, err := GetRedisObject("tinysync:test", &out)
	if err != nil {
		t.Fatalf("GetRedisObject: %v", err)
	}
	if found {
		t.Error("GetRedisObject should report a miss without redis")
	}

	if err := SetRedisValue("tinysync:test", "v", time.Minute); err != nil {
		t.Fatalf("SetRedisValue: %v", err)
	}
	if err := RemoveRedisKey("tinysync:test"); err != nil {
		t.Fatalf("RemoveRedisKey: %v", err)
	}
	if GetRedisLock() != nil {
		t.Error("lock client should be nil without redis")
	}
}
