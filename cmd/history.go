package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/redentordev/paradigm/pkg/history"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <app>",
	Short: "List recent deployment attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of attempts to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := newOutput()
	path := history.Path(resolveBase(args[0]))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		out.Info("No deployments recorded for %s", args[0])
		return nil
	}

	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := (&history.Repo{DB: db}).List(cmd.Context(), "", historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		out.Info("No deployments recorded for %s", args[0])
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		ref := rec.Ref
		if len(ref) > 12 {
			ref = ref[:12]
		}
		rows = append(rows, []string{
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Strategy,
			ref,
			rec.Status,
			rec.FailedStep,
			fmt.Sprintf("%.1fs", rec.Duration().Seconds()),
		})
	}
	out.Table([]string{"STARTED", "STRATEGY", "REF", "STATUS", "FAILED STEP", "DURATION"}, rows)
	return nil
}
