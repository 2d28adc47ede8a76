package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 25 {
		t.Fatalf("unexpected conn defaults: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %s", got.PingTimeout)
	}
}

func TestPostgresPoolExplicitValuesKept(t *testing.T) {
	in := PostgresPoolConfig{MaxOpenConns: 3, ConnMaxLifetime: time.Minute}
	got := in.withDefaults()
	if got.MaxOpenConns != 3 || got.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values overridden: %+v", got)
	}
}
