package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/facolos/etl/internal/infrastructure/config"
	"github.com/facolos/etl/internal/infrastructure/logger"
	"github.com/facolos/etl/internal/infrastructure/migration"
	"github.com/facolos/etl/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

func main() {
	var (
		migrationsPath string
		configPath     string
		logLevel       string
	)

	flag.StringVar(&migrationsPath, "path", "", "Path to migrations directory (default: embedded migrations)")
	flag.StringVar(&configPath, "config", "", "Path to config.toml (default: search ./, ./config, /etc/facolos-etl)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	// File-generating commands always work against a directory on disk.
	switch command {
	case "create", "create-staging", "list":
		dir := migrationsPath
		if dir == "" {
			dir = defaultMigrationsPath
		}
		absPath, err := filepath.Abs(dir)
		if err != nil {
			log.Fatal("Failed to get absolute path", zap.Error(err))
		}
		runFileCommand(log, command, args[1:], absPath)
		return
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database", zap.Error(err))
	}

	var m *migration.Migrator
	if migrationsPath == "" {
		log.Info("Migration CLI started", zap.String("command", command), zap.String("source", "embedded"))
		m, err = migration.NewEmbedded(db, migrations.FS, ".", log)
	} else {
		absPath, absErr := filepath.Abs(migrationsPath)
		if absErr != nil {
			log.Fatal("Failed to get absolute path", zap.Error(absErr))
		}
		log.Info("Migration CLI started", zap.String("command", command), zap.String("migrations_path", absPath))
		m, err = migration.New(db, absPath, log)
	}
	if err != nil {
		log.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal("Migration up failed", zap.Error(err))
		}

	case "down":
		if err := m.Down(); err != nil {
			log.Fatal("Migration down failed", zap.Error(err))
		}

	case "step":
		if len(args) < 2 {
			log.Fatal("Step count required. Usage: migrate step <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Invalid step count", zap.String("value", args[1]))
		}
		if err := m.Steps(n); err != nil {
			log.Fatal("Migration step failed", zap.Error(err))
		}

	case "goto":
		if len(args) < 2 {
			log.Fatal("Version required. Usage: migrate goto <version>")
		}
		version, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			log.Fatal("Invalid version number", zap.String("value", args[1]))
		}
		if err := m.GoTo(uint(version)); err != nil {
			log.Fatal("Migration goto failed", zap.Error(err))
		}

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Failed to get version", zap.Error(err))
		}
		if version == 0 {
			log.Info("No migrations applied")
		} else {
			log.Info("Current migration version",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
		}

	case "force":
		if len(args) < 2 {
			log.Fatal("Version required. Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("Invalid version number", zap.String("value", args[1]))
		}
		log.Warn("Forcing migration version - use with caution!")
		if err := m.Force(version); err != nil {
			log.Fatal("Force version failed", zap.Error(err))
		}

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func runFileCommand(log *zap.Logger, command string, args []string, dir string) {
	switch command {
	case "create":
		if len(args) < 1 {
			log.Fatal("Migration name required. Usage: migrate create <name> [description]")
		}
		description := ""
		if len(args) > 1 {
			description = args[1]
		}
		mf, err := migration.CreateMigration(dir, args[0], description)
		if err != nil {
			log.Fatal("Failed to create migration", zap.Error(err))
		}
		log.Info("Migration created successfully",
			zap.String("version", mf.Version),
			zap.String("up_file", mf.UpPath),
			zap.String("down_file", mf.DownPath),
		)

	case "create-staging":
		if len(args) < 2 {
			log.Fatal("Table and key columns required. Usage: migrate create-staging <table> <key1,key2> [append]")
		}
		staging := migration.StagingTable{
			Table:      args[0],
			KeyColumns: strings.Split(args[1], ","),
			Append:     len(args) > 2 && args[2] == "append",
		}
		mf, err := migration.CreateStagingMigration(dir, staging)
		if err != nil {
			log.Fatal("Failed to create staging migration", zap.Error(err))
		}
		log.Info("Staging migration created",
			zap.String("table", staging.Table),
			zap.String("primary_key", staging.PrimaryKey()),
			zap.String("up_file", mf.UpPath),
		)

	case "list":
		files, err := migration.ListMigrations(dir)
		if err != nil {
			log.Fatal("Failed to list migrations", zap.Error(err))
		}
		if len(files) == 0 {
			log.Info("No migrations found")
			return
		}
		log.Info("Available migrations", zap.Int("count", len(files)))
		for _, f := range files {
			fmt.Println("  -", f)
		}
	}
}

func printUsage() {
	fmt.Println(`Facolos ETL Database Migration Tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                                   Apply all pending migrations
  down                                 Roll back all migrations
  step <n>                             Apply n migrations (positive=up, negative=down)
  goto <version>                       Migrate to a specific version
  version                              Show current migration version
  force <version>                      Force set migration version (use with caution)
  create <name> [desc]                 Create a new migration file pair
  create-staging <table> <keys> [append]
                                       Scaffold a staging table with ETL metadata columns
  list                                 List available migrations

Flags:
  -path string          Migrations directory (default: migrations embedded in the binary)
  -config string        Path to config.toml
  -log-level string     Log level: debug, info, warn, error (default: info)

Environment Variables:
  ETL_DATABASE_HOST, ETL_DATABASE_PORT, ETL_DATABASE_USER, ETL_DATABASE_PASSWORD,
  ETL_DATABASE_DBNAME, ETL_DATABASE_SSLMODE

Examples:
  # Apply all pending migrations
  migrate up

  # Roll back the last migration
  migrate step -1

  # Scaffold a new upsert staging table
  migrate create-staging misa_invoices id`)
}
