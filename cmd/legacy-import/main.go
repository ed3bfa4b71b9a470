// Command legacy-import loads a chat store export into the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/legacy"
	"github.com/npezzotti/roomsync/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	var (
		dsn    string
		file   string
		dryRun bool
	)
	flag.StringVar(&dsn, "dsn", config.Getenv("ROOMSYNC_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&file, "file", "", "path to the export (JSON)")
	flag.BoolVar(&dryRun, "dry-run", false, "decode and report without writing")
	flag.Parse()

	log := logger.New(logger.Options{})
	defer log.Sync()

	if file == "" {
		log.Errorw("missing -file")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(log, dsn, file, dryRun); err != nil {
		log.Errorw("import failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, dsn, file string, dryRun bool) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	export, err := legacy.Decode(f)
	if err != nil {
		return err
	}

	if dryRun {
		for _, r := range export.Rooms {
			log.Infow("room", "room_id", r.Key, "name", r.Name, "messages", len(r.Messages), "typing", r.Typing)
		}
		log.Infow("dry run complete", "rooms", len(export.Rooms), "skipped", len(export.Skipped))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPgGoChatRepository(dsn)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	res, err := legacy.NewImporter(log, db).Import(ctx, export)
	if err != nil {
		return err
	}

	log.Infow("import complete", "rooms", res.Rooms, "messages", res.Messages)
	return nil
}
