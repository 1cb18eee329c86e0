// Package agent wires together configuration, collectors, the event bus,
// the sink, and (when enabled) the sensor relay into the running fact
// process, grounded on original_source/fact/src/lib.rs's run/run_monitors.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylape/fact/pkg/fact/certs"
	"github.com/kylape/fact/pkg/fact/collector"
	"github.com/kylape/fact/pkg/fact/collectors/filemonitor"
	"github.com/kylape/fact/pkg/fact/collectors/packagemonitor"
	"github.com/kylape/fact/pkg/fact/config"
	"github.com/kylape/fact/pkg/fact/eventbus"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/relay"
	"github.com/kylape/fact/pkg/fact/rpcclient"
	"github.com/kylape/fact/pkg/fact/sink"
	"github.com/kylape/fact/pkg/fact/vsock"
)

// version is the agent version placed in the user-agent value every gRPC
// call from this process carries: "fact/<version> (agent)" for the main
// sensor client and "fact/<version> (relay)" for the relay's own client.
const version = "0.1.0"

// Run builds the collector registry from cfg, starts every capable
// collector, runs the sink until a shutdown signal arrives, and stops all
// started collectors before returning.
func Run(ctx context.Context, cfg *config.FactConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bundle *certs.Bundle
	if cfg.Certs != "" {
		b, err := certs.Load(cfg.Certs)
		if err != nil {
			return fmt.Errorf("agent: loading certificate bundle: %w", err)
		}
		bundle = b
	}

	var rpcClient *rpcclient.Client
	if !cfg.SkipHTTP && cfg.URL != "" {
		c, err := rpcclient.Dial(ctx, cfg.URL, fmt.Sprintf("fact/%s (agent)", version), bundle)
		if err != nil {
			log.L().Warnw("agent failed to create sensor RPC client", "error", err)
		} else {
			rpcClient = c
			defer c.Close()
		}
	}

	registry := collector.NewRegistry()
	if cfg.EnableFileMonitor {
		registry.Register(filemonitor.New(filemonitor.Config{Paths: cfg.Paths}))
	}
	if cfg.EnablePackageMonitor {
		registry.Register(packagemonitor.New(packagemonitor.Config{
			RPMDB:     cfg.RPMDB,
			Interval:  time.Duration(cfg.Interval) * time.Second,
			Transport: packageTransport(cfg, rpcClient != nil),
			RPCClient: rpcClient,
			VsockPort: cfg.VsockPort,
		}))
	}

	bus := eventbus.New()
	log.L().Infow("starting fact", "mode", cfg.Mode)

	if err := registry.StartCapable(ctx, bus); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer registry.StopAll(context.Background())

	runsRelay := cfg.Mode == config.ModeVsockListener || cfg.Mode == config.ModeHybrid
	if runsRelay {
		relayClient := rpcClient
		if relayClient == nil {
			c, err := rpcclient.Dial(ctx, cfg.SensorEndpoint, fmt.Sprintf("fact/%s (relay)", version), bundle)
			if err != nil {
				log.L().Warnw("agent failed to create relay RPC client, reports will be dropped", "error", err)
			} else {
				relayClient = c
				defer c.Close()
			}
		}

		if vsock.Available() {
			r := relay.New(cfg.VsockPort, relayClient)
			go func() {
				if err := r.Serve(ctx); err != nil {
					log.L().Errorw("sensor relay stopped", "error", err)
				}
			}()
		} else {
			log.L().Warnw("vsock requested but not available on this system, relay disabled")
		}
	}

	s := sink.New(bus, rpcClient)
	log.L().Infow("fact running, waiting for shutdown signal")
	s.Run(ctx)

	log.L().Infow("shutdown signal received, stopping collectors")
	return nil
}

func packageTransport(cfg *config.FactConfig, hasRPCClient bool) packagemonitor.TransportMode {
	switch {
	case cfg.UseVsock:
		return packagemonitor.TransportVsock
	case hasRPCClient:
		return packagemonitor.TransportRPC
	default:
		return packagemonitor.TransportNone
	}
}
