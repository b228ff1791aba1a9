// cmd/migrate applies the embedded goose migrations to the users database.
//
// Usage:
//
//	go run ./cmd/migrate            # up
//	go run ./cmd/migrate status
//	DATABASE_URL=postgres://... go run ./cmd/migrate down
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/internal/config"
	"github.com/jmerrifield20/authority/migrations"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(context.Background(), command, logger); err != nil {
		logger.Fatal("migrate failed", zap.String("command", command), zap.Error(err))
	}
}

func run(ctx context.Context, command string, logger *zap.Logger) error {
	v := config.NewViper(os.Getenv("AUTHORITY_CONFIG"))
	if _, err := config.ReadFile(v); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		err = goose.UpContext(ctx, db, ".")
	case "down":
		err = goose.DownContext(ctx, db, ".")
	case "status":
		err = goose.StatusContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown command %q (want up, down or status)", command)
	}
	if err != nil {
		return err
	}
	logger.Info("migrate finished", zap.String("command", command))
	return nil
}
