package quota

import (
	"context"
	"time"

	"gap-advisor/internal/common/logger"
	"gap-advisor/internal/common/metrics"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically drops monthly buckets from past periods. Redis keys
// also carry a TTL; the sweep covers the memory counter and keys written
// without one.
type Sweeper struct {
	counter Counter
	cron    *cron.Cron
	now     func() time.Time
	logger  logger.Logger
}

func NewSweeper(counter Counter, log logger.Logger) *Sweeper {
	return &Sweeper{
		counter: counter,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		now:     time.Now,
		logger:  log.WithFields(map[string]interface{}{"component": "quota-sweeper"}),
	}
}

// Start schedules the sweep with a standard five-field cron spec.
func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("quota sweeper scheduled", map[string]interface{}{"schedule": schedule})
	return nil
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	period := Period(s.now())
	removed, err := s.counter.Sweep(ctx, period)
	metrics.QuotaBucketsSwept.Add(float64(removed))
	if err != nil {
		s.logger.Error("quota sweep failed", map[string]interface{}{
			"period":  period,
			"removed": removed,
			"error":   err.Error(),
		})
		return removed, err
	}
	s.logger.Info("quota sweep completed", map[string]interface{}{
		"period":  period,
		"removed": removed,
	})
	return removed, nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
