package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete documents by id in one transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, s, err := rootOpts.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			defer s.Close()

			for _, id := range args {
				if err := s.DeleteByID(id, nil); err != nil {
					return err
				}
			}
			if err := s.SaveChanges(cmd.Context()); err != nil {
				return err
			}
			for _, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
