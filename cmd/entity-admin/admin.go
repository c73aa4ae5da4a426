package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/entity-dao/internal/business"
)

func newInitDBCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the store and every business table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			if err := ds.Register(business.Schemas()...); err != nil {
				return err
			}
			if err := ds.Install(cmd.Context()); err != nil {
				return err
			}
			for _, name := range ds.Tables().List() {
				meta, err := ds.Tables().GetMetadata(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s as %s\n", name, meta.StorageTable)
			}
			return nil
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Save the records of a YAML fixture file",
		Long: `Save the records of a YAML fixture file. The file maps table names to
lists of records:

  driver:
    - id: 0b8e1c8a-3f6e-4c1e-9d7a-6f1f0c2b9a10
      name: Ana
      location: {lat: -23.55, lon: -46.63}
      active: true

Tables are imported in file order. With --create an existing record is an
error instead of being overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read fixtures: %w", err)
			}
			var fixtures yaml.Node
			if err := yaml.Unmarshal(raw, &fixtures); err != nil {
				return fmt.Errorf("failed to parse fixtures: %w", err)
			}
			if len(fixtures.Content) == 0 {
				return nil
			}
			root := fixtures.Content[0]
			if root.Kind != yaml.MappingNode {
				return fmt.Errorf("fixtures must map table names to record lists")
			}

			ds, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer ds.Close()

			for i := 0; i+1 < len(root.Content); i += 2 {
				table := root.Content[i].Value
				s, err := lookupSchema(table)
				if err != nil {
					return err
				}
				var records []map[string]any
				if err := root.Content[i+1].Decode(&records); err != nil {
					return fmt.Errorf("table %s: %w", table, err)
				}
				d, err := ds.NewDAO(s)
				if err != nil {
					return err
				}

				saved := 0
				for j, doc := range records {
					e, err := s.Deserialize(doc)
					if err != nil {
						return fmt.Errorf("%s record %d: %w", table, j, err)
					}
					write := d.Save
					if create {
						write = d.Create
					}
					out, err := write(cmd.Context(), e)
					if err != nil {
						return fmt.Errorf("%s record %d: %w", table, j, err)
					}
					if out != nil {
						saved++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d/%d records into %s\n", saved, len(records), table)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "fail on records that already exist")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(config)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
