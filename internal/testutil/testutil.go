// Package testutil builds throwaway stores for package tests.
package testutil

import (
	"testing"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewDB opens a migrated in-memory SQLite ledger store.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Init(&config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     ":memory:",
		LogLevel: "silent",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// NewRedis starts a miniredis server and returns a client bound to it.
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// Clock is a settable time source.
type Clock struct {
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Set(t time.Time) { c.now = t.UTC() }

func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Date is shorthand for midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
