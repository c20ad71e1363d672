package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/errors"
	"github.com/mverteuil/birdcore/internal/logging"
)

var log = logging.ForService("datastore")

// Store wraps the GORM handle shared by every repository method in this
// package. Detections, audio files, and weather all live behind the same
// connection; species reference data is a separate, read-only, attached
// database handled by internal/speciesref.
type Store struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if necessary) a WAL-mode SQLite database at
// path and runs AutoMigrate. WAL plus NORMAL synchronous suits a
// single-writer appliance workload: durable enough to survive a process
// crash, fast enough not to stall the analysis pipeline on every insert.
func OpenSQLite(path string, debug bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategorySystem).
			Context("path", path).Build()
	}

	gormLogLevel := logger.Warn
	if debug {
		gormLogLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("path", path).Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-4000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			log.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}
	sqlDB.SetMaxOpenConns(1) // SQLite + WAL: single writer, avoid lock contention

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("operation", "automigrate").Build()
	}

	log.Info("sqlite datastore ready", "path", path, "journal_mode", "WAL")
	return &Store{db: db}, nil
}

// OpenMySQL opens a MySQL-backed store from a DSN connection string, for
// multi-appliance deployments that centralize
// detections on a shared server.
func OpenMySQL(dsn string, debug bool) (*Store, error) {
	gormLogLevel := logger.Warn
	if debug {
		gormLogLevel = logger.Info
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(allModels...); err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
			Context("operation", "automigrate").Build()
	}

	log.Info("mysql datastore ready")
	return &Store{db: db}, nil
}

// OpenFromSettings picks SQLite or MySQL based on settings.DataDir and, in
// a future config field, an explicit backend selector; for now this module
// always uses SQLite under DataDir, MySQL being reachable via OpenMySQL
// directly for operators who wire it up themselves.
func OpenFromSettings(settings *conf.Settings) (*Store, error) {
	path := filepath.Join(settings.DataDir, "birdcore.db")
	return OpenSQLite(path, settings.Debug)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying *gorm.DB for packages (speciesref, analytics)
// that need to ATTACH another database file or run raw SQL against this
// same connection.
func (s *Store) DB() *gorm.DB { return s.db }

// WithContext returns a *gorm.DB bound to ctx, for callers that want
// cancellation/timeout support on a single query without reaching past the
// repository methods below.
func (s *Store) WithContext(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(err).Component("datastore").Category(errors.CategoryDatabase).
		Context("operation", op).Build()
}
