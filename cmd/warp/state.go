package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janekolszak/warp/pkg/sortkey"
)

var (
	stateAt   string
	stateJSON bool
)

var stateCmd = &cobra.Command{
	Use:   "state <contract>",
	Short: "Show the latest cached state of a contract",
	Long: `Show the cached snapshot of a contract at or below a sort key.

Nothing is evaluated; the snapshot must have been stored by an earlier
evaluation sharing this cache.

Example:
  warp state <contract>
  warp state <contract> --at <sort key> --json`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

func init() {
	stateCmd.Flags().StringVar(&stateAt, "at", "", "upper sort key (default latest)")
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "output as JSON")
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer w.Close(ctx)

	v, found, err := w.Snapshot(ctx, args[0], sortkey.Key(stateAt))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no cached state for %s", args[0])
	}

	out := cmd.OutOrStdout()
	if stateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	valid := 0
	for _, ok := range v.Validity {
		if ok {
			valid++
		}
	}
	fmt.Fprintf(out, "Contract:      %s\n", args[0])
	fmt.Fprintf(out, "Sort key:      %s\n", v.SortKey)
	fmt.Fprintf(out, "Code version:  %s\n", v.CodeVersion)
	fmt.Fprintf(out, "Interactions:  %d (%d valid)\n", len(v.Validity), valid)
	if v.IsHalted() {
		fmt.Fprintf(out, "Halted:        %s\n", v.Halted)
	}
	fmt.Fprintf(out, "State:         %s\n", v.State)
	return nil
}
