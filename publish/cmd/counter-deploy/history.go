package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/cosmo-local-credit/counterdeploy/publish/journal"
)

var errNoJournal = errors.New("no journal configured, use --journal or JOURNAL_PATH")

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the attempts of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("journal_path")
			if path == "" {
				return errNoJournal
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			if len(args) == 1 {
				return a.printAttempts(j, args[0])
			}
			return a.printRuns(j)
		},
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func (a *app) printRuns(j *journal.Journal) error {
	runs, err := j.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs recorded.")
		return nil
	}

	w := newTable(a.out)
	fmt.Fprintln(w, "RUN\tCONTRACT\tREQUESTED\tBYTECODE\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.Contract, r.Requested, r.BytecodeSize, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func (a *app) printAttempts(j *journal.Journal, runID string) error {
	run, err := j.Run(runID)
	if err != nil {
		return err
	}
	attempts, err := j.Attempts(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Run %s: %s, %d requested, %d recorded, started %s\n\n",
		run.ID, run.Contract, run.Requested, len(attempts), run.StartedAt.Format("2006-01-02 15:04:05"))

	w := newTable(a.out)
	fmt.Fprintln(w, "#\tSTATUS\tADDRESS\tTX\tDURATION\tERROR")
	for _, at := range attempts {
		addr, tx := "-", "-"
		if at.Address != (common.Address{}) {
			addr = at.Address.Hex()
		}
		if at.TxHash != (common.Hash{}) {
			tx = at.TxHash.Hex()
		}
		errText := at.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			at.Index+1, at.Status, addr, tx, at.Duration().Round(time.Millisecond), errText)
	}
	return w.Flush()
}
