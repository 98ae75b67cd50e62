package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/jun/secondbrain/internal/app"
	"github.com/jun/secondbrain/internal/config"
	"github.com/jun/secondbrain/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Getenv("SECONDBRAIN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	application, err := app.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	lambda.Start(application.HandleRequest)
}
