package commands

import (
	"context"

	"github.com/spf13/cobra"

	"csr-volunteer/driver"
	"csr-volunteer/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users, categories and requests into an empty database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		db, err := driver.ConnectDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		_, err = seed.Run(context.Background(), db, log)
		return err
	},
}
