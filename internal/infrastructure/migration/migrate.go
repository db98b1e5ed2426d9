package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	// Драйверы регистрируются в migrate через init
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Source — встроенный набор миграций.
type Source struct {
	FS  fs.FS
	Dir string
}

var (
	// Postgres — схема авторитета.
	Postgres = Source{FS: postgresFS, Dir: "postgres"}
	// SQLite — локальная схема устройства.
	SQLite = Source{FS: sqliteFS, Dir: "sqlite"}
)

// SQLiteURL строит адрес базы устройства для драйвера migrate.
func SQLiteURL(path string) string {
	return "sqlite3://" + path + "?_busy_timeout=5000"
}

// Migrator — интерфейс для самой библиотеки migrate.Migrate
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine — фабрика для создания мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(src Source, databaseURL string) (Migrator, error)

// DefaultEngine — реальная реализация для продакшена
func DefaultEngine(src Source, databaseURL string) (Migrator, error) {
	d, err := iofs.New(src.FS, src.Dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations %s: %w", src.Dir, err)
	}
	return migrate.NewWithSourceInstance("iofs", d, databaseURL)
}

type Migration struct {
	source      Source
	databaseURL string
	engine      MigrationEngine
}

func NewMigration(src Source, databaseURL string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		source:      src,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.source, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			err = errors.Join(err, fmt.Errorf("migration source: %w", serr))
		}
		if dberr != nil {
			err = errors.Join(err, fmt.Errorf("migration database: %w", dberr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}
