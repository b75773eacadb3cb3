package syncer

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
)

const (
	// defaultWatchInterval is the cadence of the utilization watch between
	// full sync passes.
	defaultWatchInterval = 5 * time.Minute
	defaultWatchJitter   = 30 * time.Second
)

// ServiceConfig configures the background sync service.
type ServiceConfig struct {
	Store      *store.Store
	Reconciler *Reconciler
	Pools      *pool.Manager
	// Schedule is a standard cron expression for full sync passes.
	Schedule string
	// Jitter delays each router's sync by a random amount so a fleet of
	// routers is not hit at the same instant.
	Jitter time.Duration
	// WatchInterval is the utilization watch cadence (default 5 minutes).
	WatchInterval time.Duration
}

// Service runs scheduled reconciliation over all active routers plus a
// lighter utilization watch that logs pools approaching capacity.
type Service struct {
	store  *store.Store
	rec    *Reconciler
	pools  *pool.Manager
	jitter time.Duration

	watchInterval time.Duration
	schedule      string
	cron          *cron.Cron

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the sync service from cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("syncer: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = defaultWatchInterval
	}
	return &Service{
		store:         cfg.Store,
		rec:           cfg.Reconciler,
		pools:         cfg.Pools,
		jitter:        cfg.Jitter,
		watchInterval: cfg.WatchInterval,
		schedule:      cfg.Schedule,
		cron:          cron.New(),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start launches the cron schedule and the utilization watch.
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.SyncAll(context.Background())
	})
	if err != nil {
		return fmt.Errorf("syncer: schedule sync: %w", err)
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runJittered(s.stopCh, s.watchInterval, defaultWatchJitter, func() {
			s.watchUtilization(context.Background())
		})
	}()

	log.Printf("[sync] service started (schedule %q)", s.schedule)
	return nil
}

// Stop halts the schedule and waits for in-flight work.
func (s *Service) Stop() {
	close(s.stopCh)
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	log.Printf("[sync] service stopped")
}

// SyncAll reconciles every active router in sequence. One router failing
// does not stop the pass.
func (s *Service) SyncAll(ctx context.Context) {
	routers, err := s.store.ListRouters(ctx, true)
	if err != nil {
		log.Printf("[sync] list routers: %v", err)
		return
	}

	for _, rt := range routers {
		if s.jitter > 0 {
			delay := time.Duration(rand.Int64N(int64(s.jitter)))
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-time.After(delay):
			}
		}

		report, err := s.rec.SyncRouter(ctx, rt)
		if err != nil {
			log.Printf("[sync] router %s: %v", rt.ID, err)
			continue
		}
		log.Printf("[sync] router %s: %s", rt.ID, report.Summary())
	}
}

// watchUtilization logs every mirrored pool at or past the warning band.
// Reads go through the availability cache, so a quiet fleet costs nothing
// between refreshes.
func (s *Service) watchUtilization(ctx context.Context) {
	routers, err := s.store.ListRouters(ctx, true)
	if err != nil {
		log.Printf("[sync] list routers: %v", err)
		return
	}
	for _, rt := range routers {
		poolRows, err := s.store.ListPools(ctx, rt.ID)
		if err != nil {
			log.Printf("[sync] router %s: list pools: %v", rt.ID, err)
			continue
		}
		for _, p := range poolRows {
			if !p.Active {
				continue
			}
			s.reportBand(ctx, rt, p)
		}
	}
}

func (s *Service) reportBand(ctx context.Context, rt model.Router, p model.IPPool) {
	avail, err := s.pools.Availability(ctx, rt, p)
	if err != nil {
		log.Printf("[sync] router %s: pool %q availability: %v", rt.ID, p.Name, err)
		return
	}
	switch avail.Band() {
	case pool.BandWarning:
		log.Printf("[sync] router %s: pool %q at %.1f%% utilization",
			rt.ID, p.Name, avail.Utilization())
	case pool.BandCritical:
		log.Printf("[sync] router %s: pool %q CRITICAL at %.1f%% utilization, assignments blocked",
			rt.ID, p.Name, avail.Utilization())
	}
}

// runJittered executes fn at a jittered interval until stopCh is closed.
// The interval is: minInterval + random([0, jitterRange)).
func runJittered(stopCh <-chan struct{}, minInterval, jitterRange time.Duration, fn func()) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
