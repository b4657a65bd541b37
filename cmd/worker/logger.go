package main

import (
	"github.com/crowdsense/crowdsense-worker/internal/config"
	"github.com/crowdsense/crowdsense-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
