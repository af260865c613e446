package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ravendb/ravendb.go"
	"github.com/ravendb/ravendb.go/pkg/logger"
)

// RootOptions holds the flags every subcommand shares.
type RootOptions struct {
	ConfigPath string
	URL        string
	Database   string
	Format     string
	Verbose    bool
}

var validFormats = []string{"json", "text"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ravenctl",
		Short: "Inspect and edit documents of a RavenDB database",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "server url, overrides the configuration")
	cmd.PersistentFlags().StringVarP(&opts.Database, "database", "d", "", "database, overrides the configuration")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "json", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log requests to stderr")

	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newRQLCommand(opts))

	return cmd
}

// openSession builds a store from the configuration file, the environment
// and the flags, in increasing precedence, and opens one session on it.
func (o *RootOptions) openSession(stderr io.Writer) (*ravendb.DocumentStore, *ravendb.Session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	} else if o.ConfigPath == "" {
		level = "warn"
	}
	l, err := logger.New().FromBuffer(stderr).WithLevel(level).Make()
	if err != nil {
		return nil, nil, err
	}

	store, err := ravendb.NewDocumentStore(cfg, ravendb.WithLogger(l))
	if err != nil {
		return nil, nil, err
	}
	s, err := store.OpenSession()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, s, nil
}

func (o *RootOptions) config() (*ravendb.Config, error) {
	cfg := ravendb.NewConfig(
		ravendb.GetEnvOrDefault(ravendb.EnvURL, ""),
		ravendb.GetEnvOrDefault(ravendb.EnvDatabase, ""),
	)
	if o.ConfigPath != "" {
		// validation waits until the flags are applied
		loaded, err := ravendb.LoadConfig(o.ConfigPath)
		if loaded == nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.URL != "" {
		cfg.URLs = []string{o.URL}
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, cfg.Validate()
}
