package commands

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"csr-volunteer/driver"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(0)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [n]",
	Short: "Roll back the last n migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n := 1
		if len(args) == 1 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
				return errors.Errorf("invalid step count %q", args[0])
			}
		}
		return runMigrate(-n)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func runMigrate(steps int) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	db, err := driver.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := driver.Migrate(db, cfg.Database.Driver, steps); err != nil {
		return err
	}
	version, dirty, err := driver.Version(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	log.WithField("version", version).WithField("dirty", dirty).Info("migrations applied")
	return nil
}
