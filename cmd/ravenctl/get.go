package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/pkg/document"
)

type getOptions struct {
	*RootOptions
	Includes []string
}

func newGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &getOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>...",
		Short: "Print documents by id",
		Long: `Print documents by id. All ids are loaded in a single request.

Example:
  ravenctl get users/1 users/2 --include CompanyID`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, s, err := opts.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			defer s.Close()

			docs, err := ravendb.LoadMany[*document.Document](cmd.Context(), s, args, ravendb.WithIncludes(opts.Includes...))
			if err != nil {
				return err
			}
			var records []record
			var missing []string
			for _, id := range args {
				doc := docs[id]
				if doc == nil {
					missing = append(missing, id)
					continue
				}
				records = append(records, toRecord(s, doc))
			}
			if err := writeRecords(cmd.OutOrStdout(), opts.Format, records); err != nil {
				return err
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %v", ravendb.ErrDocumentNotFound, missing)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Includes, "include", nil, "paths of referenced documents to fetch along")

	return cmd
}
