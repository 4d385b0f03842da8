package main

import (
	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
