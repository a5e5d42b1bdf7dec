package controller

import (
	"runtime"
	"time"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
	"github.com/alexisbeaulieu97/assetq/internal/queue"
	"github.com/alexisbeaulieu97/assetq/internal/scheduler"
)

const (
	defaultPollInterval    = 50 * time.Millisecond
	defaultShutdownTimeout = 30 * time.Second
)

// DefaultMaxJobs is the hardware parallelism minus one, never below one.
func DefaultMaxJobs() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger injects a logger.
func WithLogger(logger ports.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics injects a metrics collector.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(c *Controller) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithEvents injects the event publisher.
func WithEvents(events ports.EventPublisher) Option {
	return func(c *Controller) {
		if events != nil {
			c.events = events
		}
	}
}

// WithMaxJobs bounds the number of concurrently running jobs. Values below
// one select DefaultMaxJobs.
func WithMaxJobs(n int) Option {
	return func(c *Controller) {
		c.maxJobs = n
	}
}

// WithPlatforms sets the platform classification used for ordering.
func WithPlatforms(platforms *scheduler.Platforms) Option {
	return func(c *Controller) {
		if platforms != nil {
			c.platforms = platforms
		}
	}
}

// WithSearchOptions tunes the heuristic job search.
func WithSearchOptions(opts queue.SearchOptions) Option {
	return func(c *Controller) {
		c.searchOptions = &opts
	}
}

// WithShutdownPolling sets how often Shutdown checks for drained jobs and how
// long it waits in total.
func WithShutdownPolling(interval, timeout time.Duration) Option {
	return func(c *Controller) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.shutdownTimeout = timeout
		}
	}
}
