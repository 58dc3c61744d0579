package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/logger"
)

// LogLevel Flag
var LogLevel = ""

var (
	cfg *config.Config
	log *logrus.Logger
)

// openDB connects to the configured database; tests swap it for SQLite
var openDB = func(cfg *config.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	return database.InitDB(cfg.Database, log)
}

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Operator tools for the compensation engine",
	Long: `Runs migrations, pays bonus periods by hand, audits wallet balances against
their transaction log and prints the effective compensation plan.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.LoadConfig()
		level := LogLevel
		if level == "" {
			level = cfg.LogLevel
		}
		log = logger.NewWithOutput(level, cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", LogLevel, "logging level (debug|info|warn|error, default: LOG_LEVEL or info)")
}

// Execute the commands
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
