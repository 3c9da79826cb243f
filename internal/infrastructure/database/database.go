package database

import (
	"fmt"
	"time"

	"coopcredit/internal/config"
	"coopcredit/internal/infrastructure/logger"
	"coopcredit/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Init opens the ledger store and migrates the schema.
//
// SQLite has no row locks, so the pool is pinned to one connection: every
// transaction is then serialized, which is stricter than the per-member
// FOR UPDATE lock used on MySQL.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.NewGormLogger(log, cfg.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// AutoMigrate creates or updates every ledger table.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Member{},
		&model.LedgerEntry{},
		&model.PaymentAllocation{},
		&model.PaymentSchedule{},
		&model.ProductCreditTerms{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
