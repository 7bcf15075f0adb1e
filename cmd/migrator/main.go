package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"comedores/internal/config"
)

func main() {
	var (
		direction string
		steps     int
	)
	flag.StringVar(&direction, "direction", "up", "up or down")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply; 0 means all")
	flag.Parse()

	cfg := config.MustLoad()

	m, err := migrate.New(cfg.Database.MigrationsPath, cfg.Database.DSN)
	if err != nil {
		fail(err)
	}
	defer m.Close()

	switch {
	case steps != 0 && direction == "down":
		err = m.Steps(-steps)
	case steps != 0:
		err = m.Steps(steps)
	case direction == "down":
		err = m.Down()
	case direction == "up":
		err = m.Up()
	default:
		fail(fmt.Errorf("unknown direction %q", direction))
	}

	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("no migrations to apply")
		return
	}
	if err != nil {
		fail(err)
	}
	fmt.Println("migrations applied")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
	os.Exit(1)
}
