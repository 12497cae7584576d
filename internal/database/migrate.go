package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratelite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator は接続済みのDBに対するmigrateインスタンスを生成する。
// ドライバごとに migrations/<driver> 配下のSQLを使用する。
// 返却されたMigrateをCloseするとdbも閉じられるため、共有ハンドルでは呼び出さないこと。
func NewMigrator(db *DB) (*migrate.Migrate, error) {
	driverName := db.DriverName()

	source, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	var instance database.Driver
	switch driverName {
	case DriverPostgres:
		instance, err = migratepg.WithInstance(db.DB.DB, &migratepg.Config{})
	case DriverSQLite:
		instance, err = migratelite.WithInstance(db.DB.DB, &migratelite.Config{})
	default:
		return nil, fmt.Errorf("unsupported migration driver: %s", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// Migrate は接続済みのDBにすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func Migrate(db *DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RunMigrations はデータベースURLに接続してすべてのマイグレーションを適用する。
func RunMigrations(databaseURL string) error {
	db, err := Open(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return Migrate(db)
}
