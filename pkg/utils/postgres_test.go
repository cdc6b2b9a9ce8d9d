package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolDefaults(t *testing.T) {
	got := PostgresPoolConfig{MaxOpenConns: 8}.withDefaults()
	if got.MaxIdleConns != 8 {
		t.Fatalf("expected idle conns to follow open conns, got %d", got.MaxIdleConns)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("expected 5s ping timeout, got %s", got.PingTimeout)
	}
}

func TestWithTx_NilDB(t *testing.T) {
	err := WithTx(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected unique violation")
	}
	if IsUniqueViolation(errors.New("x")) {
		t.Fatalf("expected plain error not to match")
	}
}
