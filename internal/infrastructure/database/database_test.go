package database

import (
	"path/filepath"
	"testing"

	"coopcredit/internal/config"
	"coopcredit/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "ledger.db"),
		LogLevel: "silent",
	}

	db, err := Init(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	for _, table := range []interface{}{
		&model.Member{},
		&model.LedgerEntry{},
		&model.PaymentAllocation{},
		&model.PaymentSchedule{},
		&model.ProductCreditTerms{},
		&model.OutboxMessage{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}
	assert.True(t, db.Migrator().HasColumn(&model.LedgerEntry{}, "terms_penalty_type"))
	assert.True(t, db.Migrator().HasColumn(&model.LedgerEntry{}, "penalty_applied"))
}

func TestInit_UnknownDriver(t *testing.T) {
	_, err := Init(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}
