package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/pkg/document"
	"github.com/ravendb/ravendb.go/pkg/query"
)

type queryOptions struct {
	*RootOptions
	Index   bool
	Where   []string
	OrderBy []string
	Desc    bool
	Select  []string
	Include []string
	Take    int
	Skip    int
	Count   bool
}

func newQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <collection>",
		Short: "Query a collection or an index",
		Long: `Query a collection, or an index with --index. Every --where filter must
match; values are parsed as JSON and fall back to plain strings.

Example:
  ravenctl query Users --where Name=John --where Age=21 --order Name --take 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.builder(args[0])
			if err != nil {
				return err
			}
			return runQuery(cmd, opts.RootOptions, b, opts.Count)
		},
	}

	cmd.Flags().BoolVar(&opts.Index, "index", false, "query the named index instead of a collection")
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "field=value equality filter")
	cmd.Flags().StringSliceVar(&opts.OrderBy, "order", nil, "fields to order by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "order descending")
	cmd.Flags().StringSliceVar(&opts.Select, "select", nil, "fields to project")
	cmd.Flags().StringSliceVar(&opts.Include, "include", nil, "paths of referenced documents to fetch along")
	cmd.Flags().IntVar(&opts.Take, "take", 0, "maximum number of results")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of results to skip")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matches only")

	return cmd
}

func (o *queryOptions) builder(source string) (*query.Builder, error) {
	b := query.ForCollection(source)
	if o.Index {
		b = query.ForIndex(source)
	}
	for i, w := range o.Where {
		field, raw, ok := strings.Cut(w, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid --where %q: want field=value", w)
		}
		if i > 0 {
			b.AndAlso()
		}
		b.WhereEquals(field, parseValue(raw))
	}
	for _, f := range o.OrderBy {
		if o.Desc {
			b.OrderByDescending(f)
		} else {
			b.OrderBy(f)
		}
	}
	if len(o.Select) > 0 {
		b.SelectFields(o.Select...)
	}
	if len(o.Include) > 0 {
		b.Include(o.Include...)
	}
	if o.Skip > 0 {
		b.Skip(o.Skip)
	}
	if o.Take > 0 {
		b.Take(o.Take)
	}
	return b, b.Err()
}

type rqlOptions struct {
	*RootOptions
	Params []string
	Count  bool
}

func newRQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &rqlOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rql <query>",
		Short: "Run a raw RQL query",
		Long: `Run a raw RQL query. Parameters are passed with --param and referenced
as $name in the query text.

Example:
  ravenctl rql 'from Users where Age > $min' --param min=30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := query.Raw(args[0])
			for _, p := range opts.Params {
				name, raw, ok := strings.Cut(p, "=")
				if !ok || name == "" {
					return fmt.Errorf("invalid --param %q: want name=value", p)
				}
				b.AddParameter(name, parseValue(raw))
			}
			return runQuery(cmd, opts.RootOptions, b, opts.Count)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "name=value query parameter")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matches only")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *RootOptions, b *query.Builder, count bool) error {
	store, s, err := opts.openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer store.Close()
	defer s.Close()

	if count {
		n, err := ravendb.QueryCount(cmd.Context(), s, b)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	}

	docs, err := ravendb.QueryAll[*document.Document](cmd.Context(), s, b)
	if err != nil {
		return err
	}
	records := make([]record, 0, len(docs))
	for _, d := range docs {
		records = append(records, toRecord(s, d))
	}
	return writeRecords(cmd.OutOrStdout(), opts.Format, records)
}

// parseValue reads a flag value as JSON, or as a plain string when it is
// not valid JSON.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
