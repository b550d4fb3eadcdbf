package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"thermopoll/internal/config"
	"thermopoll/internal/db"
	"thermopoll/internal/migrate"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadDatabaseFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		conn, err := db.Open(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db open: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := db.Close(conn); closeErr != nil {
				logger.Error("db close", "err", closeErr)
			}
		}()

		if err := migrate.Run(ctx, conn, cfg.Driver, logger); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations applied")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
