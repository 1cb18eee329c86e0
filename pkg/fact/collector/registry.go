package collector

import (
	"context"

	"github.com/kylape/fact/pkg/fact/eventbus"
	"github.com/kylape/fact/pkg/fact/log"
	"github.com/kylape/fact/pkg/fact/telemetry"
)

// Registry holds the collectors fact knows about and manages starting and
// stopping the ones capable of running.
type Registry struct {
	collectors []Collector
	started    []Collector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds c to the registry.
func (r *Registry) Register(c Collector) {
	r.collectors = append(r.collectors, c)
}

// Collectors returns every registered collector.
func (r *Registry) Collectors() []Collector {
	return r.collectors
}

// StartCapable calls CanRun on every registered collector and starts the
// ones that report true, logging (but not failing on) individual startup
// errors so one broken collector doesn't take down the others. If none
// start, that's still success: the caller runs the sink with nothing
// armed rather than treating an all-incapable host as a startup failure.
func (r *Registry) StartCapable(ctx context.Context, bus eventbus.Bus) error {
	for _, c := range r.collectors {
		can, err := c.CanRun(ctx)
		if err != nil {
			log.L().Warnw("collector capability check failed", "collector", c.Name(), "error", err)
			continue
		}
		if !can {
			log.L().Infow("collector cannot run on this system, skipping", "collector", c.Name())
			continue
		}

		if err := c.Start(ctx, bus); err != nil {
			log.L().Errorw("collector failed to start", "collector", c.Name(), "error", err)
			continue
		}

		log.L().Infow("collector started", "collector", c.Name())
		telemetry.CollectorRunning.WithLabelValues(c.Name()).Set(1)
		r.started = append(r.started, c)
	}

	if len(r.started) == 0 {
		log.L().Infow("no collectors were able to start")
	}
	return nil
}

// StopAll stops every collector this registry started, in the order they
// were started, continuing past individual stop errors.
func (r *Registry) StopAll(ctx context.Context) {
	for _, c := range r.started {
		if err := c.Stop(ctx); err != nil {
			log.L().Warnw("collector failed to stop cleanly", "collector", c.Name(), "error", err)
		}
		telemetry.CollectorRunning.WithLabelValues(c.Name()).Set(0)
	}
	r.started = nil
}
