package main

import (
	"embed"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/samirrijal/geoar/internal/pkg/config"
	"github.com/samirrijal/geoar/internal/pkg/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down|version|force N>")
	}

	cfg, err := config.Load("geoar-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, "text")

	m, err := newMigrate(cfg.Database.DSN(), logger)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer m.Close()

	switch os.Args[1] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			log.Fatalf("version: %v", verr)
		}
		fmt.Printf("version %d (dirty=%t)\n", v, dirty)
		return
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate force N")
		}
		v, perr := strconv.Atoi(os.Args[2])
		if perr != nil {
			log.Fatalf("force: %v", perr)
		}
		err = m.Force(v)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
	logger.Info("migrations applied", "command", os.Args[1])
}

func newMigrate(dsn string, logger *slog.Logger) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: logger}
	return m, nil
}

// databaseURL selects the pgx v5 driver for a postgres DSN.
func databaseURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

// migrateLogger implements migrate.Logger on slog.
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l migrateLogger) Verbose() bool { return false }
