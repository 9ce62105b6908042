// Command migrate applies or inspects the embedded Postgres schema migrations.
//
//	migrate [-database URL] up|down|version|force N
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/congo-pay/momo_wallet/internal/infra"
)

func main() {
	var url string
	flag.StringVar(&url, "database", os.Getenv("DATABASE_URL"), "postgres connection URL (default: $DATABASE_URL)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-database URL] up|down|version|force N\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(url, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(url, command string, args []string) error {
	m, err := infra.NewMigrator(url)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return nil
	case "force":
		if len(args) != 1 {
			return fmt.Errorf("force needs a version")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return m.Force(version)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
