package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukerupert/vitisco/internal/config"
	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/logging"
	"github.com/dukerupert/vitisco/internal/store"
)

type migrateCommand struct {
	opts *options
	Args struct {
		Command string `positional-arg-name:"up|down|status"`
	} `positional-args:"yes" required:"yes"`
}

func (c *migrateCommand) Execute(_ []string) error {
	cfg, db, err := openForCommand(c.opts)
	if err != nil {
		return err
	}
	defer db.Close()

	command := strings.ToLower(c.Args.Command)
	if err := database.Migrate(db, cfg.Database.Driver, command); err != nil {
		return err
	}
	slog.Info("migrate finished", "command", command, "driver", cfg.Database.Driver)
	return nil
}

type adminCommand struct {
	opts   *options
	Revoke bool `long:"revoke" description:"Remove admin rights instead of granting them"`
	Args   struct {
		Email string `positional-arg-name:"email"`
	} `positional-args:"yes" required:"yes"`
}

func (c *adminCommand) Execute(_ []string) error {
	cfg, err := config.Load(c.opts.ConfigFile)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Log.Level))

	db, err := database.Connect(databaseConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	users := store.NewUserStore(db)
	email := strings.ToLower(strings.TrimSpace(c.Args.Email))
	user, err := users.GetByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user with email %q", email)
	}

	if err := users.SetAdmin(user.ID, !c.Revoke); err != nil {
		return err
	}
	slog.Info("admin updated", "user_id", user.ID, "email", email, "admin", !c.Revoke)
	return nil
}
