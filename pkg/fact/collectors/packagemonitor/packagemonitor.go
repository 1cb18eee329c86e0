// Package packagemonitor implements the RPM database scanning collector,
// grounded on original_source/fact/src/monitors/package_monitor.rs
// (can_run / start / stop semantics, scan-then-send-then-tick loop) and
// original_source/fact/src/vm_agent.rs (rpm invocation, hostname
// resolution). Delivery is generalized to either direct RPC or vsock
// relay, selected by TransportMode (DESIGN.md's resolution of the
// "how does the package monitor pick a transport" open question).
package packagemonitor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/zstd"
	"github.com/kylape/fact/pkg/fact/eventbus"
	"github.com/kylape/fact/pkg/fact/hostinfo"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/rpcclient"
	"github.com/kylape/fact/pkg/fact/sensorapi"
	"github.com/kylape/fact/pkg/fact/telemetry"
	factvsock "github.com/kylape/fact/pkg/fact/vsock"
)

// TransportMode selects how a completed scan is delivered upstream.
type TransportMode int

const (
	// TransportNone keeps scans local to the event bus only.
	TransportNone TransportMode = iota
	// TransportRPC delivers scans over the gRPC channel to the sensor.
	TransportRPC
	// TransportVsock delivers scans over the host-guest vsock transport.
	TransportVsock
)

// zstdThreshold is the minimum vsock payload size, in bytes, that gets
// compressed before sending. Below this, compression overhead isn't worth
// paying.
const zstdThreshold = 512

// Config configures a Collector.
type Config struct {
	RPMDB     string
	Interval  time.Duration
	Transport TransportMode
	RPCClient *rpcclient.Client
	VsockPort uint32
}

// Collector periodically scans the RPM database and reports installed
// packages.
type Collector struct {
	cfg Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Collector for cfg.
func New(cfg Config) *Collector {
	return &Collector{cfg: cfg}
}

// Name identifies this collector.
func (c *Collector) Name() string { return "package_monitor" }

// Description summarizes what this collector does.
func (c *Collector) Description() string {
	return "Periodically scans RPM database for installed packages"
}

// CanRun reports whether the rpm binary and database directory are
// available, and that vsock is available if that transport was requested.
func (c *Collector) CanRun(ctx context.Context) (bool, error) {
	if _, err := exec.LookPath("rpm"); err != nil {
		log.L().Debugw("package_monitor requires the rpm command to be available")
		return false, nil
	}
	if info, err := os.Stat(c.cfg.RPMDB); err != nil || !info.IsDir() {
		log.L().Debugw("package_monitor requires the rpm database directory to exist", "path", c.cfg.RPMDB)
		return false, nil
	}
	if c.cfg.Transport == TransportVsock && !factvsock.Available() {
		log.L().Debugw("package_monitor requested vsock transport but it is not available")
		return false, nil
	}
	return true, nil
}

// Start runs one scan immediately, then one per Interval, until Stop is
// called.
func (c *Collector) Start(ctx context.Context, bus eventbus.Bus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	if err := c.scanAndReport(runCtx, bus); err != nil {
		log.L().Debugw("package_monitor initial scan failed", "error", err)
	}

	go c.loop(runCtx, bus)

	log.L().Infow("package_monitor started", "interval", c.cfg.Interval)
	return nil
}

func (c *Collector) loop(ctx context.Context, bus eventbus.Bus) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.scanAndReport(ctx, bus); err != nil {
				log.L().Debugw("package_monitor scan failed", "error", err)
			}
		}
	}
}

// Stop cancels the scan loop and waits for the in-flight cycle, if any, to
// finish. Idempotent.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.cancel()
	<-c.done
	c.running = false
	log.L().Infow("package_monitor stopped")
	return nil
}

// IsRunning reports whether the scan loop is active.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// scanAndReport runs one scan cycle: query rpm, parse its output, read the
// host's distribution descriptor, publish a PackageUpdate onto bus, and
// deliver the scan via the configured transport.
func (c *Collector) scanAndReport(ctx context.Context, bus eventbus.Bus) error {
	pkgs, err := scanPackages(ctx, c.cfg.RPMDB)
	if err != nil {
		return err
	}

	dist, err := hostinfo.ReadDistribution()
	if err != nil {
		log.L().Debugw("package_monitor failed to read distribution descriptor", "error", err)
	}

	vm := sensorapi.VirtualMachine{
		ID:   hostinfo.Hostname(),
		Name: hostinfo.Hostname(),
		Scan: &sensorapi.Scan{Components: pkgs},
	}

	select {
	case bus <- eventbus.Event{Package: &eventbus.PackageUpdate{VM: vm}}:
		telemetry.CollectorEventsEmitted.WithLabelValues(c.Name(), "package_update").Inc()
	case <-ctx.Done():
		return ctx.Err()
	}

	switch c.cfg.Transport {
	case TransportRPC:
		if err := c.cfg.RPCClient.UpsertVirtualMachine(ctx, vm); err != nil {
			log.L().Debugw("package_monitor gRPC send failed", "error", err)
		}
	case TransportVsock:
		wireDist := sensorapi.Distribution{
			ID:         dist.ID,
			VersionID:  dist.VersionID,
			Arch:       dist.Arch,
			CPE:        dist.CPE,
			PrettyName: dist.PrettyName,
		}
		if err := c.sendVsock(ctx, pkgs, wireDist); err != nil {
			log.L().Debugw("package_monitor vsock send failed", "error", err)
		}
	}

	log.L().Infow("package_monitor scan complete", "packages", len(pkgs))
	return nil
}

// sendVsock delivers an IndexReport over the host-guest transport, matching
// the wire shape the relay listener decodes (spec.md §6's
// IndexReport{vsock_cid, index_v4{hash_id, success, contents{packages,
// distributions}}}).
func (c *Collector) sendVsock(ctx context.Context, pkgs []sensorapi.Component, dist sensorapi.Distribution) error {
	if !factvsock.Available() {
		return fmt.Errorf("packagemonitor: vsock is not available on this system")
	}

	cid, err := factvsock.ContextID()
	if err != nil {
		return fmt.Errorf("packagemonitor: reading vsock context id: %w", err)
	}

	var distributions []sensorapi.Distribution
	if dist != (sensorapi.Distribution{}) {
		distributions = []sensorapi.Distribution{dist}
	}

	report := sensorapi.IndexReport{
		VsockCID: fmt.Sprintf("%d", cid),
		IndexV4: &sensorapi.IndexV4{
			HashID:  hostinfo.Hostname(),
			Success: true,
			Contents: &sensorapi.Contents{
				Packages:      pkgs,
				Distributions: distributions,
			},
		},
	}

	conn, err := factvsock.Dial(ctx, c.cfg.VsockPort)
	if err != nil {
		return fmt.Errorf("packagemonitor: connecting to vsock endpoint: %w", err)
	}
	defer conn.Close()

	payload := report.Marshal()
	if len(payload) > zstdThreshold {
		compressed, err := zstd.Compress(nil, payload)
		if err == nil {
			payload = compressed
		} else {
			log.L().Debugw("package_monitor zstd compression failed, sending uncompressed", "error", err)
		}
	}

	if err := factvsock.Send(conn, payload); err != nil {
		return fmt.Errorf("packagemonitor: sending index report via vsock: %w", err)
	}
	log.L().Infow("package_monitor sent packages via vsock", "packages", len(pkgs))
	return nil
}

// scanPackages invokes rpm against dbpath and parses its output into
// sensorapi Components. A malformed line (not exactly four pipe-delimited
// fields) is skipped rather than failing the scan, matching the original
// agent's vm_agent.rs filter_map behavior.
func scanPackages(ctx context.Context, dbpath string) ([]sensorapi.Component, error) {
	cmd := exec.CommandContext(ctx, "rpm",
		"--dbpath", dbpath,
		"-qa", "--qf", "%{NAME}|%{VERSION}|%{RELEASE}|%{ARCH}\n",
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("packagemonitor: running rpm command: %w", err)
	}

	var pkgs []sensorapi.Component
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 4 {
			log.L().Debugw("packagemonitor: skipping malformed rpm output line", "line", line)
			continue
		}
		pkgs = append(pkgs, sensorapi.Component{
			Name:         parts[0],
			Version:      fmt.Sprintf("%s-%s", parts[1], parts[2]),
			Architecture: parts[3],
		})
	}
	return pkgs, nil
}
