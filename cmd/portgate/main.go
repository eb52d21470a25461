package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matst80/portgate/internal/allowset"
	"github.com/matst80/portgate/internal/config"
	"github.com/matst80/portgate/internal/control"
	"github.com/matst80/portgate/internal/obs"
	"github.com/matst80/portgate/internal/ratelimit"
	"github.com/matst80/portgate/internal/relay"
	"golang.org/x/sync/errgroup"
)

const limiterSweepInterval = time.Minute

func main() {
	c := newCLI()
	cfg, err := c.parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "portgate: error: %v\n\n", err)
		c.app.Usage(nil)
		fmt.Fprintln(os.Stderr, "\nexample: portgate 28901-UP8TR7iWp-22180-21180")
		os.Exit(2)
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Error("server.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("server.shutdown.complete", obs.Fields{})
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := allowset.New(allowset.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
	})
	if err != nil {
		return fmt.Errorf("allow-set: %w", err)
	}
	defer store.Close()
	obs.AuthorizedIPs.Set(float64(store.Len(ctx)))

	ctrlLn, err := net.Listen("tcp", cfg.ControlAddr())
	if err != nil {
		return fmt.Errorf("listen control %s: %w", cfg.ControlAddr(), err)
	}
	relayLn, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		_ = ctrlLn.Close()
		return fmt.Errorf("listen relay %s: %w", cfg.ListenAddr(), err)
	}
	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		if metricsLn, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			_ = ctrlLn.Close()
			_ = relayLn.Close()
			return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
	}

	limiter := ratelimit.NewRateLimiter(cfg.Limits.GlobalConnRate, cfg.Limits.ConnRate, cfg.Limits.Burst)
	r := relay.New(store, relay.Options{
		Dest:        cfg.Dest,
		IdleTimeout: cfg.IdleTimeout,
		DialTimeout: cfg.DialTimeout,
		Limiter:     limiter,
		MaxSessions: cfg.Limits.MaxSessions,
	})

	obs.Info("server.start", obs.Fields{
		"control":      ctrlLn.Addr().String(),
		"relay":        relayLn.Addr().String(),
		"dest":         cfg.Dest,
		"idle_timeout": cfg.IdleTimeout.String(),
		"metrics":      cfg.MetricsAddr,
	})

	var ready, closing atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := control.Serve(gctx, ctrlLn, control.NewHandler(store, cfg.Secret)); err != nil {
			return fmt.Errorf("control: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.Serve(gctx, relayLn); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	})
	if metricsLn != nil {
		g.Go(func() error {
			if err := control.Serve(gctx, metricsLn, newMetricsMux(&ready, &closing)); err != nil {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}
	if limiter.Enabled() {
		g.Go(func() error {
			runSweepLoop(gctx, limiter, limiterSweepInterval)
			return nil
		})
	}
	ready.Store(true)
	obs.Info("server.ready", obs.Fields{})

	<-gctx.Done()
	closing.Store(true)
	if ctx.Err() != nil {
		obs.Info("server.shutdown.signal", obs.Fields{})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSweepLoop forgets per-IP limiter state for peers that went quiet.
func runSweepLoop(ctx context.Context, rl *ratelimit.RateLimiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := rl.Sweep(interval); n > 0 {
				obs.Debug("ratelimit.sweep", obs.Fields{"removed": n})
			}
		}
	}
}
