package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"foodledger/internal/app"
	"foodledger/internal/command"
	"foodledger/internal/model"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	StopOnReject bool
}

// ApplySummary reports what an apply run did.
type ApplySummary struct {
	Results  []command.Result `json:"results"`
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	LastSeq  int64            `json:"last_seq"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <commands.jsonl>",
		Short: "Execute a file of JSON line commands against the configured store",
		Long: `Execute one command per line, in order, against the configured ledger.

Example line:
  {"op":"buyFood","caller":"0xcustomer","id":1,"units":1,"payment":"0.1"}

Exit codes:
  0 - every command was accepted
  1 - at least one command was rejected
  2 - command error (bad config, unreadable file, store failure)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.StopOnReject, "stop-on-reject", false, "stop at the first rejected command")
	return cmd
}

func runApply(ctx context.Context, opts *ApplyOptions, out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open command file", err)
	}
	defer f.Close()

	cfg, logger, err := setup(opts.RootOptions)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer a.Close()

	var sum ApplySummary
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		c, err := command.Decode(scanner.Bytes())
		var res command.Result
		if err == nil {
			res, err = command.Execute(ctx, a.Ledger, c)
		} else {
			res = command.Result{Code: model.ErrorCode(err), Message: err.Error()}
		}
		sum.Results = append(sum.Results, res)
		if err != nil && !model.IsRejection(err) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("line %d", lineNum), err)
		}
		if err != nil {
			sum.Rejected++
			if opts.StopOnReject {
				break
			}
			continue
		}
		sum.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read command file", err)
	}
	sum.LastSeq = a.Ledger.LastSeq()

	if err := emit(out, opts.Format, sum, func(w io.Writer) {
		for i, r := range sum.Results {
			if r.Code == "ok" {
				fmt.Fprintf(w, "%4d %-18s ok\n", i+1, r.Op)
				continue
			}
			fmt.Fprintf(w, "%4d %-18s %s: %s\n", i+1, r.Op, r.Code, r.Message)
		}
		fmt.Fprintf(w, "accepted=%d rejected=%d last_seq=%d\n", sum.Accepted, sum.Rejected, sum.LastSeq)
	}); err != nil {
		return err
	}
	if sum.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d command(s) rejected", sum.Rejected))
	}
	return nil
}
