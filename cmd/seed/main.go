// Command seed loads event fixtures into the registration database and
// exports registrations for organisers.
//
//	seed --db racereg.db load --file events.yaml
//	seed --db racereg.db load --demo
//	seed --db racereg.db clubs --event evt-city-10k "Riverside Pacers" "Hill Striders"
//	seed --db racereg.db export --event city-10k --out city-10k.xlsx
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Elizabethomito/racereg/backend/internal/config"
	"github.com/Elizabethomito/racereg/backend/internal/export"
	"github.com/Elizabethomito/racereg/backend/internal/pricing"
	"github.com/Elizabethomito/racereg/backend/internal/store"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		config.Exitf("seed: %v", err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "seed",
		Usage:  "manage race registration data",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Usage:   "sqlite DSN",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "racereg.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
			},
		},
		Commands: []*cli.Command{
			loadCommand(),
			clubsCommand(),
			exportCommand(),
		},
	}
}

// openStore opens the database named by --db. Fees do not matter here:
// nothing is priced by this tool.
func openStore(c *cli.Context) (*store.Store, func(), error) {
	db, err := store.Open(c.String("db"))
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return store.New(db, pricing.FeeSchedule{}, logger), func() { db.Close() }, nil
}

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "upsert events, categories, coupons and clubs from a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "fixture YAML file"},
			&cli.BoolFlag{Name: "demo", Usage: "load the bundled demo events"},
		},
		Action: func(c *cli.Context) error {
			var (
				f   store.Fixtures
				err error
			)
			switch {
			case c.Bool("demo"):
				f, err = store.DemoFixtures()
			case c.String("file") != "":
				var r *os.File
				r, err = os.Open(c.String("file"))
				if err != nil {
					return err
				}
				defer r.Close()
				f, err = store.DecodeFixtures(r)
			default:
				return fmt.Errorf("one of --file or --demo is required")
			}
			if err != nil {
				return err
			}

			st, closeDB, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeDB()

			sum, err := st.Apply(c.Context, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "loaded %d events, %d categories, %d coupons, %d clubs\n",
				sum.Events, sum.Categories, sum.Coupons, sum.Clubs)
			return nil
		},
	}
}

func clubsCommand() *cli.Command {
	return &cli.Command{
		Name:      "clubs",
		Usage:     "add running clubs to the picker list",
		ArgsUsage: "NAME...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Usage: "event ID; empty adds shared clubs"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one club name is required")
			}
			st, closeDB, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := st.AddClubs(c.Context, c.String("event"), c.Args().Slice())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "added %d clubs\n", n)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write an event's registrations to an xlsx workbook",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event", Usage: "event slug", Required: true},
			&cli.StringFlag{Name: "out", Usage: "output file; defaults to <slug>-registrations.xlsx"},
		},
		Action: func(c *cli.Context) error {
			st, closeDB, err := openStore(c)
			if err != nil {
				return err
			}
			defer closeDB()

			event, err := st.FetchEvent(c.Context, c.String("event"))
			if err != nil {
				return err
			}
			records, err := st.ListRegistrations(c.Context, event.ID)
			if err != nil {
				return err
			}

			path := c.String("out")
			if path == "" {
				path = export.Filename(event)
			}
			out, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := export.Write(out, event, records); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %d registrations to %s\n", len(records), path)
			return nil
		},
	}
}
