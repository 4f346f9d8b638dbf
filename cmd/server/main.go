package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jmoiron/sqlx"

	"habitly/internal/config"
	"habitly/internal/database"
	"habitly/internal/logging"
	"habitly/internal/transport/http"
	"habitly/migrations"
)

var CLI struct {
	Version kong.VersionFlag

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API and activity workers." default:"1"`
	Migrate MigrateCmd `cmd:"" help:"Apply pending database migrations and exit."`
}

// appContext is shared by every command.
type appContext struct {
	ctx context.Context
	cfg *config.Config
}

type ServeCmd struct {
	Migrate bool `help:"Apply pending migrations before serving." default:"true" negatable:""`
}

func (c *ServeCmd) Run(app *appContext) error {
	db, err := database.Connect(app.ctx, app.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Migrate {
		if err := migrate(app.ctx, db); err != nil {
			return err
		}
	}

	return http.Run(app.ctx, app.cfg, db)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *appContext) error {
	db, err := database.Connect(app.ctx, app.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return migrate(app.ctx, db)
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := database.NewMigrator(db, migrations.FS).Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("habitly"),
		kong.Description("Habit tracker API with streaks and a social activity feed"),
		kong.UsageOnError(),
		kong.Vars{"version": "v0.1.0"},
	)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kctx.Run(&appContext{ctx: ctx, cfg: cfg}); err != nil {
		logging.For("Main").WithError(err).Error("Command FAILED")
		stop()
		os.Exit(1)
	}
}
