// Command pooldemo exercises the pool manager end to end against a local
// database file: it creates a schema, subscribes to change notifications,
// writes a batch of rows through a write handle and streams them back
// through a read handle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool"
	"github.com/AntonStoeckl/dynamic-handles-sqlitepool-go/sqlitepool/sqliteengine"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id     INTEGER PRIMARY KEY,
	title  TEXT NOT NULL,
	author TEXT NOT NULL,
	year   INTEGER
)`

type Config struct {
	DatabasePath string
	SettingsPath string
	Rows         int
}

func main() {
	cfg := parseFlags()

	if err := run(cfg); err != nil {
		log.Fatalf("pooldemo failed: %v", err)
	}
}

func parseFlags() Config {
	var cfg Config

	flag.StringVar(&cfg.DatabasePath, "db", "pooldemo.sqlite", "path to the database file")
	flag.StringVar(&cfg.SettingsPath, "settings", "", "optional YAML settings file")
	flag.IntVar(&cfg.Rows, "rows", 5, "number of rows to insert")
	flag.Parse()

	return cfg
}

//nolint:funlen
func run(cfg Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings := sqlitepool.DefaultSettings()
	if cfg.SettingsPath != "" {
		loaded, err := sqlitepool.LoadSettings(cfg.SettingsPath)
		if err != nil {
			return err
		}
		settings = loaded
	}

	pm, err := sqliteengine.NewPoolManager(
		cfg.DatabasePath,
		sqliteengine.WithSettings(settings),
		sqliteengine.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))),
	)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := pm.Shutdown(); shutdownErr != nil {
			log.Printf("shutdown: %v", shutdownErr)
		}
	}()

	subscription := pm.Subscribe()
	defer subscription.Cancel()

	go func() {
		for batch := range subscription.Events() {
			for _, event := range batch {
				log.Printf("change notification: %s on %s", event.Kind, event.Table)
			}
		}
	}()

	if err := writeBooks(ctx, pm, cfg.Rows); err != nil {
		return err
	}

	if err := streamBooks(ctx, pm); err != nil {
		return err
	}

	// Leave the debouncer time to flush before the deferred shutdown.
	time.Sleep(settings.DebounceDelay() + 50*time.Millisecond)

	stats := pm.Stats()
	log.Printf("pool stats: %d read / %d write handles, %d quarantined",
		stats.ReadPoolSize, stats.WritePoolSize, stats.QuarantineSize)

	return nil
}

func writeBooks(ctx context.Context, pm *sqliteengine.PoolManager, rows int) error {
	writer, err := pm.AcquireReadWrite(ctx, false)
	if err != nil {
		return err
	}
	defer pm.Release(writer)

	if _, err := writer.Execute(ctx, schema); err != nil {
		return err
	}

	dialect := goqu.Dialect("sqlite3")

	for i := 0; i < rows; i++ {
		query, args, buildErr := dialect.
			Insert("books").
			Rows(goqu.Record{
				"title":  fmt.Sprintf("Title %d", i+1),
				"author": fmt.Sprintf("Author %d", i+1),
				"year":   1990 + i,
			}).
			Prepared(true).
			ToSQL()
		if buildErr != nil {
			return buildErr
		}

		affected, execErr := writer.Execute(ctx, query, args...)
		if execErr != nil {
			if sqlitepool.IsNotNullViolation(execErr) {
				return fmt.Errorf("incomplete book row: %w", execErr)
			}

			return execErr
		}

		log.Printf("inserted %d row(s)", affected)
	}

	return nil
}

func streamBooks(ctx context.Context, pm *sqliteengine.PoolManager) error {
	reader, err := pm.AcquireRead(ctx)
	if err != nil {
		return err
	}
	defer pm.Release(reader)

	query, args, err := goqu.Dialect("sqlite3").
		From("books").
		Select("id", "title", "author", "year").
		Order(goqu.I("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	cursor, err := reader.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		_ = cursor.Close()
	}()

	for cursor.Next() {
		encoded, marshalErr := cursor.Row().MarshalJSON()
		if marshalErr != nil {
			return marshalErr
		}

		fmt.Println(string(encoded))
	}

	return cursor.Err()
}
