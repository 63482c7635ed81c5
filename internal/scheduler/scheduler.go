package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily backup sweep so quiet deployments still get
// snapshots even when no write traffic triggers the freshness check.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	backupFunc func(ctx context.Context) error
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetBackupFunction(f func(ctx context.Context) error) {
	s.backupFunc = f
}

func (s *Scheduler) Start() error {
	if s.backupFunc == nil {
		log.Println("backup function not set, scheduler will not run sweeps")
		return nil
	}

	// Daily at 03:00 UTC
	_, err := s.cron.AddFunc("0 3 * * *", func() {
		log.Println("running scheduled backup sweep")
		if err := s.backupFunc(s.ctx); err != nil {
			log.Printf("scheduled backup sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Println("scheduler started, backup sweep runs daily at 03:00 UTC")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("scheduler stopped")
}
