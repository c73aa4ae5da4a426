package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// printEntity writes e as one line of JSON in its stored form.
func printEntity(w io.Writer, e *schema.Entity) error {
	doc, err := e.Schema().Serialize(e)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(doc)
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print a record by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, d, err := openDAO(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer ds.Close()

			pk, err := parseArg(d.Schema(), d.Schema().PrimaryKey().Name(), args[1])
			if err != nil {
				return err
			}
			e, err := d.GetByPrimaryKey(cmd.Context(), pk)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("%s %s not found", args[0], args[1])
			}
			return printEntity(cmd.OutOrStdout(), e)
		},
	}
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		fields []string
		rate   float64
	)
	cmd := &cobra.Command{
		Use:   "scan <table>",
		Short: "Print every record of a table",
		Long: `Print every record of a table as JSON lines.

Example:
  entity-admin scan driver --limit 10
  entity-admin scan ride_request --fields id,status --rate 100`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, d, err := openDAO(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer ds.Close()

			readOpts := []dao.ReadOption{dao.Fields(fields...)}
			if rate > 0 {
				readOpts = append(readOpts, dao.ScanRate(rate))
			}
			n := 0
			for e, err := range d.GetAll(cmd.Context(), readOpts...) {
				if err != nil {
					return err
				}
				if err := printEntity(cmd.OutOrStdout(), e); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many records (0 for all)")
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "only print these fields")
	cmd.Flags().Float64Var(&rate, "rate", 0, "records per second (0 for the table default)")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <table> <field=value>...",
		Short: "Print the records matching every field=value pair",
		Long: `Print the records whose fields equal all the given values.

Example:
  entity-admin search ride_request status=active
  entity-admin search driver active=true`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, d, err := openDAO(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer ds.Close()

			var (
				names  []string
				values []any
			)
			for _, arg := range args[1:] {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok || name == "" {
					return fmt.Errorf("expected field=value, got %q", arg)
				}
				v, err := parseArg(d.Schema(), name, raw)
				if err != nil {
					return err
				}
				names = append(names, name)
				values = append(values, v)
			}

			n := 0
			for e, err := range d.SearchByFieldValue(cmd.Context(), names, values) {
				if err != nil {
					return err
				}
				if err := printEntity(cmd.OutOrStdout(), e); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "stop after this many records (0 for all)")
	return cmd
}
