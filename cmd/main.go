package main

import (
	"fmt"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/suteetoe/pharmadesk/internal/credential"
	"github.com/suteetoe/pharmadesk/pkg/config"
	"github.com/suteetoe/pharmadesk/pkg/logger"
)

const envFileFlag = "env-file"

// Shared by every subcommand.
var commonFlags = map[string]cobraflags.Flag{
	envFileFlag: &cobraflags.StringFlag{
		Name:  envFileFlag,
		Value: "",
		Usage: "Env file to load before reading the environment (defaults to an optional ./.env)",
	},
}

var rootCmd = &cobra.Command{
	Use:   "pharmadesk",
	Short: "Multi-tenant pharmacy identity and order service",
	Long: `pharmadesk provisions pharmacy tenants and their staff accounts.

Available subcommands:
  serve      - Run the HTTP API and the expired OTP sweeper
  migrate    - Create or update the database schema
  sweep-otp  - Delete expired OTP challenges once and exit`,
	SilenceUsage: true,
}

func main() {
	for _, cmd := range []*cobra.Command{newServeCommand(), newMigrateCommand(), newSweepCommand()} {
		cobraflags.RegisterMap(cmd, commonFlags)
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, then initializes the global logger and password hashing cost.
func setup() (*config.Config, error) {
	var files []string
	if path := commonFlags[envFileFlag].GetString(); path != "" {
		files = append(files, path)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	credential.SetCost(cfg.Bcrypt.Cost)
	return cfg, nil
}
