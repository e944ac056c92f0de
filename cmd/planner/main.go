package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
	"github.com/mark3748/slotplanner/internal/calendar"
	"github.com/mark3748/slotplanner/internal/eventstore"
)

var (
	blue    = color.New(color.FgBlue).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	gray    = color.New(color.FgHiBlack).SprintFunc()
)

// CLI holds state shared by the subcommands.
type CLI struct {
	cfg     apppkg.Config
	in      io.Reader
	out     io.Writer
	now     func() time.Time
	base    string
	yes     bool
	verbose bool

	// set in PersistentPreRunE
	cal   *calendar.Calendar
	store *eventstore.Store
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	cli := &CLI{cfg: apppkg.GetConfig(), in: in, out: out, now: time.Now}
	root := &cobra.Command{
		Use:           "planner",
		Short:         "Pack events into the week's work slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setup(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	pf := root.PersistentFlags()
	pf.StringVar(&cli.cfg.EventsFile, "events", cli.cfg.EventsFile, "event file (JSON lines)")
	pf.StringVar(&cli.cfg.CalendarFile, "calendar", cli.cfg.CalendarFile, "calendar YAML file")
	pf.StringVar(&cli.base, "base", "", "first day of the week, YYYY-MM-DD (default today)")
	pf.BoolVarP(&cli.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(cli.gridCommand(), cli.planCommand())
	return root
}

func (c *CLI) setup(ctx context.Context) error {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(level)
	if ctx == nil {
		ctx = context.Background()
	}
	cal, err := apppkg.LoadCalendar(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("load calendar: %w", err)
	}
	mc, err := apppkg.NewMinIO(c.cfg)
	if err != nil {
		return fmt.Errorf("minio init: %w", err)
	}
	c.cal = cal
	c.store = apppkg.NewStore(c.cfg, mc)
	return nil
}

func main() {
	_ = godotenv.Load()
	root := newRootCommand(os.Stdin, os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
