// Package dbtest opens throwaway sqlite databases that mirror the production schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dissertia/dissertia-api/pkg/db"
)

var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		last_login_at DATETIME,
		stripe_customer_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE billing_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		monthly_price NUMERIC NOT NULL,
		yearly_price NUMERIC NOT NULL,
		currency_code TEXT NOT NULL DEFAULT 'BRL',
		features TEXT,
		max_operations_per_month INTEGER NOT NULL,
		max_ai_cost_per_month INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		start_date DATETIME NOT NULL,
		next_billing_date DATETIME NOT NULL,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT 0,
		cancelled_at DATETIME,
		stripe_subscription_id TEXT UNIQUE,
		stripe_customer_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE usage_periods (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		operation_count INTEGER NOT NULL DEFAULT 0,
		cost_cents INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (user_id, period_start)
	)`,
	`CREATE TABLE ai_operations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		usage_period_id TEXT,
		operation_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		cost_cents INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		UNIQUE (user_id, operation_key)
	)`,
	`CREATE TABLE billing_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subscription_id TEXT,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'brl',
		external_id TEXT NOT NULL UNIQUE,
		description TEXT,
		metadata TEXT,
		occurred_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE subscription_events (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		actor TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME
	)`,
}

// Open returns a client backed by a private in-memory sqlite database with
// every application table created. A single connection serializes writers so
// concurrent tests exercise the SQL rather than sqlite's lock handling.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db.NewFromGorm(conn)
}
