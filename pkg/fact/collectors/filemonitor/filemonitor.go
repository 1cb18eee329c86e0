package filemonitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/kylape/fact/pkg/fact/eventbus"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/telemetry"
	"golang.org/x/sys/unix"
)

// objectPath is where the compiled LSM program lives. It's produced by a
// bpf2go build step outside this module (the same way the sensor's
// protobuf bindings are produced outside it), and installed alongside the
// fact binary by packaging.
const objectPath = "/usr/lib/fact/fileopen.bpf.o"

const (
	programName = "trace_file_open"
	hookName    = "file_open"
	mapPaths    = "paths_map"
	mapRingbuf  = "rb"
	globalLen   = "paths_len"
)

// Config is the set of paths to monitor.
type Config struct {
	Paths []string
}

// Collector is the eBPF LSM-hook-based file-open collector.
type Collector struct {
	cfg Config

	mu        sync.Mutex
	running   bool
	coll      *ebpf.Collection
	lsmLink   link.Link
	ringbuf   *ringbuf.Reader
	stopRead  chan struct{}
	readDone  chan struct{}
}

// New builds a Collector for cfg.
func New(cfg Config) *Collector {
	return &Collector{cfg: cfg}
}

// Name identifies this collector.
func (c *Collector) Name() string { return "file_monitor" }

// Description summarizes what this collector does.
func (c *Collector) Description() string {
	return "Monitors file access patterns using eBPF LSM hooks"
}

// CanRun reports whether the process has root privileges, at least one
// configured path, and a kernel with loadable BTF — the same
// preconditions original_source/fact/src/monitors/file_monitor.rs checks.
func (c *Collector) CanRun(ctx context.Context) (bool, error) {
	if unix.Geteuid() != 0 {
		log.L().Debugw("file_monitor requires root privileges for eBPF operations")
		return false, nil
	}
	if len(c.cfg.Paths) == 0 {
		log.L().Debugw("file_monitor has no paths configured to monitor")
		return false, nil
	}
	if _, err := btf.LoadKernelSpec(); err != nil {
		log.L().Debugw("file_monitor cannot load BTF, eBPF not supported", "error", err)
		return false, nil
	}
	return true, nil
}

// Start loads the compiled LSM program, populates its path filter map,
// attaches it, and begins draining its ring buffer onto bus.
func (c *Collector) Start(ctx context.Context, bus eventbus.Bus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		log.L().Debugw("removing memlock rlimit failed", "error", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return fmt.Errorf("filemonitor: loading collection spec: %w", err)
	}
	if err := spec.Variables[globalLen].Set(uint32(len(c.cfg.Paths))); err != nil {
		return fmt.Errorf("filemonitor: setting %s: %w", globalLen, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("filemonitor: loading collection: %w", err)
	}

	pathsMap, ok := coll.Maps[mapPaths]
	if !ok {
		coll.Close()
		return fmt.Errorf("filemonitor: collection has no %s map", mapPaths)
	}
	for i, p := range c.cfg.Paths {
		cfg, err := NewPathCfg(p)
		if err != nil {
			coll.Close()
			return err
		}
		if err := pathsMap.Put(uint32(i), cfg); err != nil {
			coll.Close()
			return fmt.Errorf("filemonitor: populating path filter %d: %w", i, err)
		}
		log.L().Infow("file_monitor monitoring path", "path", p)
	}

	prog, ok := coll.Programs[programName]
	if !ok {
		coll.Close()
		return fmt.Errorf("filemonitor: collection has no %s program", programName)
	}
	lsmLink, err := link.AttachLSM(link.LSMOptions{Program: prog})
	if err != nil {
		coll.Close()
		return fmt.Errorf("filemonitor: attaching LSM hook %s: %w", hookName, err)
	}

	rb, ok := coll.Maps[mapRingbuf]
	if !ok {
		lsmLink.Close()
		coll.Close()
		return fmt.Errorf("filemonitor: collection has no %s map", mapRingbuf)
	}
	reader, err := ringbuf.NewReader(rb)
	if err != nil {
		lsmLink.Close()
		coll.Close()
		return fmt.Errorf("filemonitor: opening ring buffer reader: %w", err)
	}

	c.coll = coll
	c.lsmLink = lsmLink
	c.ringbuf = reader
	c.stopRead = make(chan struct{})
	c.readDone = make(chan struct{})
	c.running = true

	go c.drain(bus)

	log.L().Infow("file_monitor started", "paths", len(c.cfg.Paths))
	return nil
}

func (c *Collector) drain(bus eventbus.Bus) {
	defer close(c.readDone)
	for {
		record, err := c.ringbuf.Read()
		if err != nil {
			select {
			case <-c.stopRead:
				return
			default:
			}
			log.L().Warnw("file_monitor ring buffer read failed", "error", err)
			return
		}

		raw, err := DecodeRawFileEvent(record.RawSample)
		if err != nil {
			log.L().Debugw("file_monitor dropping undecodable event", "error", err)
			continue
		}
		ev, err := raw.Cook()
		if err != nil {
			log.L().Debugw("file_monitor dropping event with invalid fields", "error", err)
			continue
		}

		bus <- ev.ToEvent()
		telemetry.CollectorEventsEmitted.WithLabelValues(c.Name(), "file_activity").Inc()
	}
}

// Stop detaches the LSM hook and stops draining the ring buffer.
// Idempotent.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}

	close(c.stopRead)
	_ = c.ringbuf.Close()
	<-c.readDone

	_ = c.lsmLink.Close()
	c.coll.Close()

	c.running = false
	log.L().Infow("file_monitor stopped")
	return nil
}

// IsRunning reports whether the collector is currently attached.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
