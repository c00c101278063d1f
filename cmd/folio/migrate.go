package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"folio/api/db"
	"folio/api/internal/store"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := flags.load()
			conn, err := openDatabase(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrateUp(cmd.Context(), rt, conn); err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 0 {
				return exitCode(2, "--steps must not be negative")
			}
			rt := flags.load()
			conn, err := openDatabase(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := store.RollbackMigrations(cmd.Context(), conn, db.Migrations(), steps, rt.logger); err != nil {
				return err
			}
			color.New(color.FgYellow, color.Bold).Fprintln(cmd.OutOrStdout(), "rollback complete")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 rolls back all)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt := flags.load()
			conn, err := openDatabase(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, versions, err := store.MigrationStatus(cmd.Context(), conn, db.Migrations())
			if err != nil {
				return err
			}
			printMigrationStatus(cmd, applied, versions)
			return nil
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, applied map[string]bool, versions []string) {
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	pending := 0
	for _, version := range versions {
		if applied[version] {
			green.Fprintf(out, "  applied  %s\n", version)
			continue
		}
		pending++
		yellow.Fprintf(out, "  pending  %s\n", version)
	}
	fmt.Fprintf(out, "%d applied, %d pending\n", len(versions)-pending, pending)
}
