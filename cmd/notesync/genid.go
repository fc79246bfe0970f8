package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astromechza/notesync/pkg/notes"
)

func newGenIDCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "gen-id",
		Short: "Print fresh note identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i := 0; i < count; i++ {
				id, err := notes.NewID()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many identifiers to print")
	return cmd
}
