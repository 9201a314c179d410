package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janekolszak/warp/pkg/sortkey"
)

var cacheAfter string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached snapshots",
}

var cacheListCmd = &cobra.Command{
	Use:   "list <contract>",
	Short: "List the sort keys of a contract's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer w.Close(ctx)

		keys, err := w.Snapshots(ctx, args[0])
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <contract>",
	Short: "Drop snapshots after a sort key",
	Long: `Drop every snapshot of a contract with a sort key strictly greater than
--after. Without --after all snapshots are dropped.

Example:
  warp cache invalidate <contract> --after <sort key>`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := openClient(ctx)
		if err != nil {
			return err
		}
		defer w.Close(ctx)

		n, err := w.Invalidate(ctx, args[0], sortkey.Key(cacheAfter))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s) of %s\n", n, args[0])
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&cacheAfter, "after", "", "keep snapshots at or below this sort key")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}
