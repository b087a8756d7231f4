package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"sre-platform/internal/cli"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	// Load .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to read .env", zap.Error(err))
	}

	if err := cli.Execute(); err != nil {
		logger.Error("sre-platform failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
