// Command couples detects interactions, merges, splits and couples in
// multi-object trajectory tables.
//
// Usage:
//
//	couples detect [flags] <trajectory.csv>
//	couples summary [flags] <export-dir>
//	couples serve [flags]
//	couples runs [-remote URL] <list|show ID|delete ID|export ID>
//	couples migrate [-db path] <up|down|status|to N|force N>
//	couples version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/version"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("couples: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return errUsage
	}
	switch args[0] {
	case "detect":
		return runDetect(ctx, args[1:], stdout)
	case "summary":
		return runSummary(args[1:], stdout)
	case "serve":
		return runServe(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:], stdout)
	case "migrate":
		return runMigrate(args[1:], stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: couples <command> [flags]

Commands:
  detect    run detection on a trajectory table and write the combined CSV
  summary   summarise a directory of combined CSV exports
  serve     run the HTTP API
  runs      list, show, delete or export runs on a server
  migrate   manage the run database schema
  version   print build information

Run 'couples <command> -h' for command flags.
`)
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "couples.db", "Path to the run database")
	fs.Usage = func() {
		fs.PrintDefaults()
		db.PrintMigrateHelp(fs.Output())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
