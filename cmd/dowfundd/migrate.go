package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := LoadConfig()
		log := newLogger(cfg)

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck // shutdown path

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Str("driver", cfg.StoreDriver).Msg("migrations applied")
		return nil
	},
}
