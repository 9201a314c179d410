package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/janekolszak/warp/pkg/sortkey"
)

var (
	interactionsFrom string
	interactionsTo   string
	interactionsJSON bool
)

var interactionsCmd = &cobra.Command{
	Use:   "interactions <contract>",
	Short: "List a contract's interactions in evaluation order",
	Long: `Load the confirmed interactions of a contract with from < sort key <= to
and print them in the order they are evaluated.

Example:
  warp interactions KTzTXT_ANmF84fWEKHzWURD1LWd9QaFR9yfYUwH2Lxw
  warp interactions <contract> --from 000001000000,... --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInteractions,
}

func init() {
	interactionsCmd.Flags().StringVar(&interactionsFrom, "from", "", "exclusive lower sort key")
	interactionsCmd.Flags().StringVar(&interactionsTo, "to", "", "inclusive upper sort key")
	interactionsCmd.Flags().BoolVar(&interactionsJSON, "json", false, "output as JSON")
}

func runInteractions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer w.Close(ctx)

	records, err := w.Interactions(ctx, args[0], sortkey.Key(interactionsFrom), sortkey.Key(interactionsTo))
	if err != nil {
		return err
	}

	if interactionsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SORT KEY\tID\tHEIGHT\tFUNCTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.SortKey, r.ID, r.Block.Height, r.Function())
	}
	return tw.Flush()
}
