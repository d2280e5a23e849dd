package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ContentFlow/internal/config"
	"ContentFlow/internal/storage/mysql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL migrations",
	Long: `Apply the schema migrations for the configured storage driver (mysql or
sqlite). Migrations that were already applied are skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != mysql.DriverMySQL && cfg.Storage.Driver != mysql.DriverSQLite {
			return fmt.Errorf("存储驱动 %q 不需要迁移", cfg.Storage.Driver)
		}
		repo, err := mysql.NewSQLRepository(cmd.Context(), storageConfig(cfg), false)
		if err != nil {
			return err
		}
		defer repo.Close()

		applied, err := repo.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
