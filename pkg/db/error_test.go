package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm", err: gorm.ErrDuplicatedKey, want: true},
		{name: "pgconn", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "mysql", err: errors.New("Error 1062: Duplicate entry"), want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: purchases.user_id, purchases.game_id"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	if _, err := Dialect(Config{Type: "oracle"}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := Dialect(Config{Type: "sqlite", Name: "file::memory:"}); err != nil {
		t.Fatalf("sqlite dialect: %v", err)
	}
}

func TestDuplicateKeyTarget(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "not duplicate", err: errors.New("connection refused"), want: ""},
		{name: "pgconn", err: &pgconn.PgError{Code: "23505", ConstraintName: "ux_purchases_completed_owner"}, want: "ux_purchases_completed_owner"},
		{name: "pg message", err: errors.New(`ERROR: duplicate key value violates unique constraint "ux_purchases_gateway_order" (SQLSTATE 23505)`), want: "ux_purchases_gateway_order"},
		{name: "mysql", err: errors.New("Error 1062 (23000): Duplicate entry 'doku-INV-1' for key 'purchases.ux_purchases_gateway_order'"), want: "ux_purchases_gateway_order"},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: purchases.payment_gateway, purchases.gateway_order_id (2067)"), want: "purchases.payment_gateway, purchases.gateway_order_id"},
		{name: "translated", err: gorm.ErrDuplicatedKey, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DuplicateKeyTarget(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
