package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/entity-dao/internal/business"
	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
	"github.com/rzpsarthak13/entity-dao/pkg/entitydao"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "entity-admin",
		Short: "Entity DAO administration",
		Long: `entity-admin manages the tables of the entity DAO.

Configuration is read from --config when the file exists and from
ENTITY_DAO_* environment variables, e.g. ENTITY_DAO_BACKEND_TYPE=redis.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newInitDBCmd(opts),
		newGetCmd(opts),
		newScanCmd(opts),
		newSearchCmd(opts),
		newImportCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadConfig() (*entitydao.Config, error) {
	config, err := entitydao.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		config.Log.Level = o.logLevel
	}
	return config, nil
}

// open builds a data source whose logs go to the command's stderr.
func (o *rootOptions) open(cmd *cobra.Command) (*entitydao.DataSource, error) {
	config, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := entitydao.NewLogger(config.Log.Level, config.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return entitydao.Open(config, entitydao.WithLogger(logger))
}

func lookupSchema(table string) (*schema.Schema, error) {
	var names []string
	for _, s := range business.Schemas() {
		if s.Table() == table {
			return s, nil
		}
		names = append(names, s.Table())
	}
	slices.Sort(names)
	return nil, fmt.Errorf("unknown table %q (known: %v)", table, names)
}

func openDAO(cmd *cobra.Command, o *rootOptions, table string) (*entitydao.DataSource, *dao.DAO, error) {
	s, err := lookupSchema(table)
	if err != nil {
		return nil, nil, err
	}
	ds, err := o.open(cmd)
	if err != nil {
		return nil, nil, err
	}
	d, err := ds.NewDAO(s)
	if err != nil {
		_ = ds.Close()
		return nil, nil, err
	}
	return ds, d, nil
}

// parseArg converts a command line value to the type of the named field.
func parseArg(s *schema.Schema, name, raw string) (any, error) {
	f, ok := s.Field(name)
	if !ok {
		return nil, fmt.Errorf("table %s has no field %q", s.Table(), name)
	}
	switch f.Kind() {
	case schema.KindInteger:
		return strconv.ParseInt(raw, 10, 64)
	case schema.KindFloat:
		return strconv.ParseFloat(raw, 64)
	case schema.KindBoolean:
		return strconv.ParseBool(raw)
	case schema.KindString, schema.KindList, schema.KindSet:
		return raw, nil
	case schema.KindUUID, schema.KindDateTime:
		return f.Deserialize(raw)
	}
	return nil, fmt.Errorf("field %s of kind %s cannot be given on the command line", name, f.Kind())
}
