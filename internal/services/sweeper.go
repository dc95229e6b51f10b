package services

import (
	"context"
	"fmt"
	"time"

	"postauction-system/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CronSweeper drives the matcher's expiry sweep on a fixed cadence.
type CronSweeper struct {
	cron     *cron.Cron
	matcher  *EventMatcher
	interval time.Duration
	log      logger.Logger
}

func NewCronSweeper(matcher *EventMatcher, interval time.Duration, log logger.Logger) *CronSweeper {
	return &CronSweeper{
		cron:     cron.New(cron.WithSeconds()),
		matcher:  matcher,
		interval: interval,
		log:      log,
	}
}

func (s *CronSweeper) Start(ctx context.Context) error {
	s.log.Info("Starting expiry sweeper", "interval", s.interval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.matcher.CheckExpiredAuctions(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

func (s *CronSweeper) Stop() error {
	s.log.Info("Stopping expiry sweeper")
	s.cron.Stop()
	return nil
}
