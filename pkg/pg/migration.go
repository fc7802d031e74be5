package pg

import (
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies goose migrations from dir. command is one of up, down, status or redo.
func Migrate(cfg Config, dir string, command string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("running migrations", "dir", dir, "command", command)
	switch command {
	case "", "up":
		err = goose.Up(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "redo":
		err = goose.Redo(db, dir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
