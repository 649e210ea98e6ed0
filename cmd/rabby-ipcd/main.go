// Package main is the entrypoint for rabby-ipcd, the desktop IPC service.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rabbyhub/desktop-ipc/internal/config"
	"github.com/rabbyhub/desktop-ipc/internal/server"
	"github.com/rabbyhub/desktop-ipc/pkg/db"
	"github.com/rabbyhub/desktop-ipc/pkg/events"
)

const usage = `Usage: rabby-ipcd [command]
       rabby-ipcd serve              Start the service (COMMS invoke/send subscriptions, HTTP health).
       rabby-ipcd migrate up         Run database migrations.
       rabby-ipcd migrate down       Fails: migrations are forward-only.
       rabby-ipcd migrate status     Show applied and pending migrations.
       rabby-ipcd ensure-db [name]   Create database if missing (default name: rabby_ipc_test). Uses DATABASE_URL host/user.
       rabby-ipcd clear              Truncate dapps, order, bindings and settings; schema is preserved.
       rabby-ipcd seed <file>        Register dapps from a TOML seed file. Existing origins are skipped.

Environment: DATABASE_URL, MIGRATION_PATH, STORE_DRIVER (postgres|memory), COMMS_URL,
APP_VERSION, HTTP_PORT (default 8080), LOG_LEVEL. See internal/config for the full list.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("rabby-ipcd migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("rabby-ipcd migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("rabby-ipcd migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("rabby-ipcd migrate down: %v", err)
			}
		default:
			log.Fatalf("rabby-ipcd migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("rabby-ipcd clear: %v", err)
		}
		return
	case "seed":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("rabby-ipcd seed: require a seed file")
		}
		if err := runSeed(args[1]); err != nil {
			log.Fatalf("rabby-ipcd seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "rabby_ipc_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("rabby-ipcd ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("rabby-ipcd: %v", err)
	}
}

// withPool loads config, validates it for database use and hands fn a pool.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrations(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrations(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		states, err := db.MigrationStatus(ctx, pool, migrations)
		if err != nil {
			return err
		}
		db.PrintMigrationStatus(os.Stdout, states)
		return nil
	})
}

func runMigrateDown() error {
	return db.MigrationDown(context.Background(), nil)
}

func runClear() error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearStore(ctx, pool); err != nil {
			return fmt.Errorf("clear store: %w", err)
		}
		return nil
	})
}

func runSeed(path string) error {
	seed, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		added, err := applySeed(ctx, db.NewRepository(pool), &events.NoOpPublisher{}, seed)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d dapp(s) from %s.\n", added, path)
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	targetURL, err := db.WithDatabase(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), targetURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Database %q created.\n", dbName)
	} else {
		fmt.Printf("Database %q already exists.\n", dbName)
	}
	return nil
}
