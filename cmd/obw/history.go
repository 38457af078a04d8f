package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/config"
	"github.com/openbench/obwizard/internal/history"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to show")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past evaluation runs",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	dir, err := configDir()
	if err != nil {
		return exitErr(ExitConfigError, "resolving config dir: %v", err)
	}
	hist, err := history.Open(config.HistoryDBPath(dir))
	if err != nil {
		return exitErr(ExitConfigError, "opening history: %v", err)
	}
	defer hist.Close()

	records, err := hist.Recent(historyLimit)
	if err != nil {
		return exitErr(ExitError, "reading history: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, rec := range records {
		outcome := "running"
		if !rec.FinishedAt.IsZero() {
			if rec.Success {
				outcome = "ok"
			} else {
				outcome = "failed"
			}
		}
		fmt.Printf("%s  %-7s %s  %s\n",
			rec.StartedAt.Format("2006-01-02 15:04"), outcome, rec.Host, rec.ConfigPath)
		if rec.Message != "" && !rec.Success {
			fmt.Printf("    %s\n", rec.Message)
		}
	}
	return nil
}
