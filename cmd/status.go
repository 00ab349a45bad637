package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/redentordev/paradigm/pkg/deployer"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <app>",
	Short: "Show the releases and state of an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := newOutput()
	st, err := deployer.Inspect(cmd.Context(), resolveBase(args[0]))
	if err != nil {
		return err
	}

	out.Section(args[0])
	out.KeyValue("Base", st.Base)
	if st.Current == nil {
		out.KeyValue("Current", "none")
	} else {
		out.KeyValue("Current", fmt.Sprintf("%s (%s)", st.Current.ID, st.Current.ShortRef()))
	}
	if st.Previous != nil {
		out.KeyValue("Previous", fmt.Sprintf("%s (%s)", st.Previous.ID, st.Previous.ShortRef()))
	}
	if st.Lock != nil {
		out.Warning("%s in progress since %s by %s (pid %d)",
			st.Lock.Operation, st.Lock.Created.Format(time.RFC3339), st.Lock.Who, st.Lock.PID)
	}

	if st.Slots != nil {
		out.Subsection("Slots")
		names := make([]string, 0, len(st.Slots.Slots))
		for name := range st.Slots.Slots {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			slot := st.Slots.Slots[name]
			active := ""
			if name == st.Slots.Active {
				active = "*"
			}
			running := "stopped"
			if slot.Running {
				running = "running"
			}
			rows = append(rows, []string{active, name, fmt.Sprint(slot.Port), slot.Release, running})
		}
		out.Table([]string{"", "SLOT", "PORT", "RELEASE", "STATE"}, rows)
	}

	if len(st.Releases) > 0 {
		out.Subsection("Releases")
		rows := make([][]string, 0, len(st.Releases))
		for _, r := range st.Releases {
			mark := ""
			switch {
			case st.Current != nil && r.ID == st.Current.ID:
				mark = "current"
			case st.Previous != nil && r.ID == st.Previous.ID:
				mark = "previous"
			}
			rows = append(rows, []string{r.ID, r.ShortRef(), r.CreatedAt.Format(time.DateTime), mark})
		}
		out.Table([]string{"RELEASE", "REF", "CREATED", ""}, rows)
	}

	if st.Last != nil {
		out.Subsection("Last attempt")
		out.KeyValue("Status", st.Last.Status)
		out.KeyValue("Strategy", st.Last.Strategy)
		out.KeyValue("Finished", st.Last.FinishedAt.Format(time.RFC3339))
		if st.Last.FailedStep != "" {
			out.KeyValue("Failed step", st.Last.FailedStep)
		}
		if st.Last.Message != "" {
			out.KeyValue("Message", st.Last.Message)
		}
	}
	return nil
}
