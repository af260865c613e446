package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/document"
)

type putOptions struct {
	*RootOptions
	File       string
	Collection string
}

func newPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &putOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <id> [json]",
		Short: "Store a document",
		Long: `Store a document under id, replacing any existing one. The body is read
from the second argument, from --file, or from stdin.

Example:
  ravenctl put users/1 '{"Name":"John"}' --collection Users`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := opts.body(cmd, args)
			if err != nil {
				return err
			}
			var doc document.Document
			if err := json.Unmarshal(body, &doc); err != nil {
				return fmt.Errorf("invalid document JSON: %w", err)
			}
			if opts.Collection != "" {
				meta := doc.Metadata()
				if meta == nil {
					meta = document.Document{}
				}
				meta[constants.MetadataCollection] = opts.Collection
				doc[constants.MetadataKey] = meta
			}

			store, s, err := opts.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer store.Close()
			defer s.Close()

			if err := s.StoreWithID(&doc, args[0]); err != nil {
				return err
			}
			if err := s.SaveChanges(cmd.Context()); err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), opts.Format, []record{toRecord(s, &doc)})
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the document from a file")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection of the document")

	return cmd
}

func (o *putOptions) body(cmd *cobra.Command, args []string) ([]byte, error) {
	switch {
	case len(args) == 2:
		return []byte(args[1]), nil
	case o.File != "":
		return os.ReadFile(o.File)
	default:
		return io.ReadAll(cmd.InOrStdin())
	}
}
