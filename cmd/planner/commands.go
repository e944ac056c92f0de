package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3748/slotplanner/internal/distribute"
	"github.com/mark3748/slotplanner/internal/schedule"
	"github.com/mark3748/slotplanner/internal/slotgrid"
)

const clock = "Mon 02 Jan 15:04"

func (c *CLI) gridCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "grid",
		Short: "Print the week's slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := schedule.ParseBase(c.cal, c.base, c.now())
			if err != nil {
				return fmt.Errorf("invalid --base: %w", err)
			}
			g := slotgrid.Build(c.cal, base)
			day := ""
			for i, s := range g.Slots() {
				if d := s.Start.Format("Monday 2006-01-02"); d != day {
					day = d
					var hours []string
					for _, w := range c.cal.Windows(s.Start) {
						hours = append(hours, w[0].Format("15:04")+"-"+w[1].Format("15:04"))
					}
					fmt.Fprintln(c.out, blue(day), gray(strings.Join(hours, ", ")))
				}
				fmt.Fprintf(c.out, "  %s %s\n", gray(fmt.Sprintf("%3d", i)), s.Label)
			}
			if g.Len() == 0 {
				fmt.Fprintln(c.out, cyan("0 slots"))
				return nil
			}
			span := c.cal.WorkDuration(g.Slot(0).Start, g.Slot(g.Len()-1).End())
			fmt.Fprintln(c.out, cyan(fmt.Sprintf("%d slots, %s of work time", g.Len(), span)))
			return nil
		},
	}
}

func (c *CLI) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Distribute stored events over the week and optionally save them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.plan(cmd)
		},
	}
	cmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "save without asking")
	return cmd
}

func (c *CLI) plan(cmd *cobra.Command) error {
	ctx := cmd.Context()
	base, err := schedule.ParseBase(c.cal, c.base, c.now())
	if err != nil {
		return fmt.Errorf("invalid --base: %w", err)
	}
	tasks, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	res, err := schedule.Run(ctx, c.cal, base, tasks)
	var capErr *distribute.CapacityError
	if errors.As(err, &capErr) {
		fmt.Fprintln(c.out, cyan(fmt.Sprintf("Slots needed: %d", capErr.Needed)))
		fmt.Fprintln(c.out, red(fmt.Sprintf("Too many events to fit into the week! (%d slots available)", capErr.Available)))
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, cyan(fmt.Sprintf("Slots needed: %d of %d", res.Needed, res.GridSlots)))
	fmt.Fprintln(c.out, blue("Distributing events..."))
	loc := c.cal.Location()
	for _, t := range res.Placed {
		start, _ := distribute.ParseTimestamp(t.Start, loc)
		end, _ := distribute.ParseTimestamp(t.End, loc)
		fmt.Fprintln(c.out, yellow(fmt.Sprintf("Slot %s starts %s", t.Title, start.In(loc).Format(clock))))
		fmt.Fprintln(c.out, green(fmt.Sprintf("Slot %s ends %s", t.Title, end.In(loc).Format(clock))))
	}
	for _, r := range res.Rejected {
		fmt.Fprintln(c.out, red(fmt.Sprintf("Skipped %s (%s): %s", r.Title, r.TaskID, r.Reason)))
	}
	fmt.Fprintln(c.out, blue("Distribution complete!"))

	if !c.yes && !c.confirm("Save the distributed events? (y/n): ") {
		fmt.Fprintln(c.out, red("Events not saved."))
		return nil
	}
	backup, err := c.store.Save(ctx, res.Tasks)
	if err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if backup == "" {
		fmt.Fprintln(c.out, green("Events saved!"))
	} else {
		fmt.Fprintln(c.out, green("Events saved! Backup created as "+backup))
	}
	return nil
}

func (c *CLI) confirm(prompt string) bool {
	fmt.Fprint(c.out, magenta(prompt))
	line, _ := bufio.NewReader(c.in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
