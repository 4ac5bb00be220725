package main

import (
	"go.uber.org/zap"

	"github.com/hericahyadi/isp-provisioning-worker/internal/config"
	"github.com/hericahyadi/isp-provisioning-worker/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
