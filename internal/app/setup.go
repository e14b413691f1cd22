package app

import (
	"fmt"
	"sync"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/jmehdipour/sms-forwarder/internal/logger"
	"github.com/jmehdipour/sms-forwarder/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// Setup loads config, builds the process logger and registers metrics with
// the default registry. Every command starts with it.
func Setup(cfgPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log)
	registerOnce.Do(func() { metrics.MustRegister(prometheus.DefaultRegisterer) })
	return cfg, log, nil
}
