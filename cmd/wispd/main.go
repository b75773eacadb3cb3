package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wispkit/wispd/internal/buildinfo"
	"github.com/wispkit/wispd/internal/config"
	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/iprange"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
	"github.com/wispkit/wispd/internal/syncer"
)

func main() {
	// 1. Load and validate environment config
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("wispd %s (%s, built %s)", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	// 2. Open the mirror database and apply migrations
	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		log.Fatalf("create state dir: %v", err)
	}
	st, err := store.Open(filepath.Join(cfg.StateDir, "wispd.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate store: %v", err)
	}

	// 3. Seed the router inventory
	ctx := context.Background()
	if cfg.RouterSeedPath != "" {
		routers, err := config.LoadRouterSeed(cfg.RouterSeedPath)
		if err != nil {
			log.Fatalf("router seed: %v", err)
		}
		for _, rt := range routers {
			rt.UpdatedAtNs = time.Now().UnixNano()
			if err := st.UpsertRouter(ctx, rt); err != nil {
				log.Fatalf("seed router %s: %v", rt.ID, err)
			}
		}
		log.Printf("seeded %d router(s) from %s", len(routers), cfg.RouterSeedPath)
	}

	// 4. Wire the device client, pool manager and reconciler
	dev := device.NewRouterOS(cfg.DeviceTimeout, cfg.DevicePort)
	pools := pool.NewManager(pool.Config{
		Store:          st,
		Device:         dev,
		TTL:            cfg.AvailabilityTTL,
		MaxCachedPools: cfg.MaxCachedPools,
		RangeOptions: iprange.Options{
			ReserveGateway: cfg.ReserveGateway,
			ReserveEdge:    cfg.ReserveEdge,
		},
	})
	defer pools.Close()

	rec := syncer.NewReconciler(st, dev, pools, nil)
	svc, err := syncer.NewService(syncer.ServiceConfig{
		Store:      st,
		Reconciler: rec,
		Pools:      pools,
		Schedule:   cfg.SyncSchedule,
		Jitter:     cfg.SyncJitter,
	})
	if err != nil {
		log.Fatalf("sync service: %v", err)
	}

	// 5. Initial pass, then the schedule takes over
	svc.SyncAll(ctx)
	if err := svc.Start(); err != nil {
		log.Fatalf("start sync service: %v", err)
	}

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	svc.Stop()
	log.Println("wispd stopped")
}
