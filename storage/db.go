package storage

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentflow/internal/database"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// singleWriterPoolConfig caps the pool at exactly one logical writer: with
// only one connection ever open, SQLITE_BUSY is rare and, when it happens,
// resolved by the DSN's busy_timeout pragma rather than Go-level connection
// contention.
func singleWriterPoolConfig() database.PoolConfig {
	return database.PoolConfig{
		MaxIdleConns:        1,
		MaxOpenConns:        1,
		ConnMaxLifetime:     0,
		ConnMaxIdleTime:     0,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Open opens the single gateway SQLite file at path, enables WAL journaling
// and foreign-key enforcement, and sets a busy timeout so concurrent
// gateway/bridge/control-plane connections back off instead of failing.
// Per §4.5, the caller owns exactly one writer *gorm.DB; short-lived reader
// connections are free to open additional handles against the same file.
func Open(path string, logger *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zapWriter{logger}, gormlogger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlogger.Warn,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := database.NewPoolManager(db, singleWriterPoolConfig(), logger); err != nil {
		return nil, fmt.Errorf("configure connection pool: %w", err)
	}

	return db, nil
}

// zapWriter adapts *zap.Logger to gorm's io.Writer-shaped logger sink.
type zapWriter struct{ logger *zap.Logger }

func (w zapWriter) Printf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Sugar().Debugf(format, args...)
}
