package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"folio/api/internal/seed"
	"folio/api/internal/store"
)

func newSeedCmd(flags *globalFlags) *cobra.Command {
	var file string
	var migrate bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo accounts and pages from a YAML fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return exitCode(2, "open fixture: %w", err)
			}
			defer f.Close()
			fx, err := seed.Parse(f)
			if err != nil {
				return exitCode(2, "%s: %w", file, err)
			}

			rt := flags.load()
			conn, err := openDatabase(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer conn.Close()
			if migrate {
				if err := migrateUp(cmd.Context(), rt, conn); err != nil {
					return fmt.Errorf("migrations failed: %w", err)
				}
			}

			res, err := seed.New(store.NewPostgresStore(conn), 0, rt.logger).Apply(cmd.Context(), fx)
			out := cmd.OutOrStdout()
			for _, handle := range res.Created {
				color.New(color.FgGreen).Fprintf(out, "  created  %s\n", handle)
			}
			for _, handle := range res.Skipped {
				color.New(color.FgYellow).Fprintf(out, "  skipped  %s (already registered)\n", handle)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "db/seed/demo.yaml", "fixture to load")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations first")
	return cmd
}
