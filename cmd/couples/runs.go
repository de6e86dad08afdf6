package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/couple.report/internal/api"
)

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	remote := fs.String("remote", "http://localhost:8080", "Base URL of the couples server")
	limit := fs.Int("limit", 20, "Number of runs to list")
	output := fs.String("o", "-", "Export output path ('-' for stdout)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: couples runs [flags] list | show <id> | delete <id> | export <id>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	c := api.NewClient(*remote, nil)

	verb := fs.Arg(0)
	if verb == "list" {
		runs, err := c.ListRuns(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(stdout, runs)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}
	id := fs.Arg(1)
	switch verb {
	case "show":
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(stdout, run)
	case "delete":
		if err := c.DeleteRun(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted run %s\n", id)
		return nil
	case "export":
		return writeOutput(*output, stdout, func(w io.Writer) error {
			return c.ExportCSV(ctx, id, w)
		})
	default:
		fs.Usage()
		return fmt.Errorf("unknown runs action %q", verb)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
