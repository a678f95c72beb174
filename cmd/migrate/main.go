// Package main - управление схемой базы сервиса прогресса.
//
//	migrate            применить все новые миграции
//	migrate -status    показать состояние миграций
//	migrate -down      откатить последнюю применённую миграцию
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/postgres"
)

func main() {
	var status, down bool
	flag.BoolVar(&status, "status", false, "print migration status and exit")
	flag.BoolVar(&down, "down", false, "roll back the newest applied migration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, status, down); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, status, down bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return postgres.ErrMissingURL
	}

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	migrations, err := postgres.Migrations()
	if err != nil {
		return err
	}
	m := postgres.NewMigrator(conn, migrations)

	switch {
	case status:
		return printStatus(ctx, m)
	case down:
		v, err := m.Rollback(ctx)
		if err != nil {
			return err
		}
		if v == 0 {
			fmt.Println("nothing to roll back")
			return nil
		}
		fmt.Printf("rolled back %d\n", v)
		return nil
	}

	n, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("applied %d migration(s)\n", n)
	return nil
}

// printStatus печатает таблицу: версия, имя, время применения.
func printStatus(ctx context.Context, m *postgres.Migrator) error {
	list, err := m.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range list {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
	}
	return tw.Flush()
}
