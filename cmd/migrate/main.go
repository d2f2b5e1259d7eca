package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/config"
)

func main() {
	var (
		action     = flag.String("action", "up", "Migration action: up, down, version, force")
		configPath = flag.String("config", "", "Path to config file")
		path       = flag.String("path", "migrations", "Migrations directory")
		version    = flag.Int("version", -1, "Target version (for force)")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}

	m, err := migrate.New("file://"+*path, cfg.Database.URL)
	if err != nil {
		logger.Fatal("opening migrator", zap.Error(err))
	}
	defer m.Close()

	switch *action {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			logger.Fatal("reading version", zap.Error(verr))
		}
		fmt.Printf("version=%d dirty=%v\n", v, dirty)
		return
	case "force":
		if *version < 0 {
			logger.Fatal("force requires -version")
		}
		err = m.Force(*version)
	default:
		logger.Fatal("unknown action", zap.String("action", *action))
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migrations complete", zap.String("action", *action))
}
