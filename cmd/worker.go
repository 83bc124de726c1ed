package cmd

import (
	"errors"

	"TalkingAvatar-server/models"
	"TalkingAvatar-server/service"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued generation tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		if !a.cfg.Redis.Enabled() {
			return errors.New("worker requires redis.addr")
		}
		return service.NewProcessor(a.gen, a.log).Run(a.cfg.Redis, a.cfg.Queue.Concurrency)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		gs, ok := a.store.(*models.GormStore)
		if !ok {
			return errors.New("migrate requires mysql.dsn")
		}
		if err := models.Migrate(gs.DB); err != nil {
			return err
		}
		a.log.Info("migration finished")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}
