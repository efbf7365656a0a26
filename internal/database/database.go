package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/parcels"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteForeignKeys = "_pragma=foreign_keys(1)"
	sqliteBusyTimeout = "_pragma=busy_timeout(5000)"
)

// Options selects and addresses the backing store.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured store, creates the schema and applies the recorded
// data migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	dialector, target, err := dialectorFor(options)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, err
	}

	if driverName(options.Driver) == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&parcels.Recipient{}, &parcels.Package{}, &parcels.ActivityLog{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized",
			zap.String("driver", driverName(options.Driver)),
			zap.String("target", target))
	}

	return db, nil
}

// OpenSQLite opens a SQLite file with foreign keys enforced.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(Options{Driver: DriverSQLite, Path: path}, logger)
}

func dialectorFor(options Options) (gorm.Dialector, string, error) {
	switch driverName(options.Driver) {
	case DriverSQLite:
		if options.Path == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(sqliteDSN(options.Path)), options.Path, nil
	case DriverPostgres:
		if options.DSN == "" {
			return nil, "", fmt.Errorf("database dsn is required for postgres")
		}
		return postgres.Open(options.DSN), "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

func sqliteDSN(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteForeignKeys + "&" + sqliteBusyTimeout
}

func driverName(driver string) string {
	if driver == "" {
		return DriverSQLite
	}
	return strings.ToLower(driver)
}
