package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/hanko-field/quickorder/internal/repositories"
)

// Dialects accepted by Open.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Options tunes the connection pool and migrations.
type Options struct {
	MaxOpenConns int
	AutoMigrate  bool
	LogLevel     gormLogger.LogLevel
}

// Open connects to the given dialect. For sqlite the dsn is a file path or a "file:" URI.
func Open(dialect, dsn string, opts Options) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}

	logLevel := opts.LogLevel
	if logLevel == 0 {
		logLevel = gormLogger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(logLevel),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Migrate creates or updates the quick order tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&productRow{}, &cartRow{}, &cartItemRow{}); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Ping checks the connection pool.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NewStoreError(op, repositories.StoreErrorNotFound, "record not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repositories.NewStoreError(op, repositories.StoreErrorConflict, "", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "", err)
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, "", err)
}
