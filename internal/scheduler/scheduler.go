// Package scheduler triggers the nightly run-all batch on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"idx-validator/internal/engine"
)

type Scheduler struct {
	cron         *cron.Cron
	engine       *engine.Engine
	spec         string
	batchTimeout time.Duration
	log          *zap.Logger
}

func New(eng *engine.Engine, spec string, batchTimeout time.Duration, log *zap.Logger) *Scheduler {
	if batchTimeout <= 0 {
		batchTimeout = 20 * time.Minute
	}
	return &Scheduler{
		cron:         cron.New(),
		engine:       eng,
		spec:         spec,
		batchTimeout: batchTimeout,
		log:          log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runAll); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("cron_spec", s.spec))
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) runAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.batchTimeout)
	defer cancel()

	s.log.Info("scheduled validation batch starting")
	summary, _, err := s.engine.RunAll(ctx, nil)
	if err != nil {
		s.log.Error("scheduled batch failed", zap.Error(err))
		return
	}
	s.log.Info("scheduled batch finished",
		zap.Int("tables", summary.TotalTables),
		zap.Int("successful", summary.SuccessfulValidations),
		zap.Int("anomalies", summary.TotalAnomalies))
}
