package main

import (
	"fmt"
	"os"

	"kis-trader/internal/cli"
	"kis-trader/internal/config"
	"kis-trader/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("KIS_TRADER_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
