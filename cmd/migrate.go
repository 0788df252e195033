package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/otp"
	"github.com/suteetoe/pharmadesk/pkg/database"
	"github.com/suteetoe/pharmadesk/pkg/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			db, err := database.InitDB(&cfg.DB)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			logger.GetLogger().Info("Database migrated", zap.String("db_name", cfg.DB.DBName))
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-otp",
		Short: "Delete expired OTP challenges once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			db, err := database.InitDB(&cfg.DB)
			if err != nil {
				return err
			}
			svc := otp.NewService(db, otp.Options{TTL: cfg.OTP.TTL, QueryTimeout: cfg.DB.QueryTimeout})
			n, err := svc.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			logger.GetLogger().Info("Expired OTP challenges removed", zap.Int64("count", n))
			return nil
		},
	}
}
