package monitor

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// RuntimeStats is one sample of process and host load published while the
// service runs
type RuntimeStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsed    uint64    `json:"memory_used"`
	MemoryPercent float64   `json:"memory_percent"`
	Goroutines    int       `json:"goroutines"`
	Timestamp     time.Time `json:"timestamp"`
}

// TickStats summarizes one evaluation tick
type TickStats struct {
	Duration      time.Duration `json:"duration"`
	Assessments   int           `json:"assessments"`
	AlertsCreated int           `json:"alerts_created"`
	Failures      int           `json:"failures"`
	Timestamp     time.Time     `json:"timestamp"`
}

// MetricsCollector samples runtime load on an interval and publishes stats
// for the operations dashboards
type MetricsCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration
	stop     chan struct{}
}

// NewMetricsCollector creates a metrics collector
func NewMetricsCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:   logger.Named("metrics-collector"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting metrics collector",
		zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop
func (c *MetricsCollector) Stop() {
	close(c.stop)
}

// PublishTick publishes the summary of one evaluation tick
func (c *MetricsCollector) PublishTick(stats TickStats) {
	stats.Timestamp = time.Now().UTC()
	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal tick stats", zap.Error(err))
		return
	}
	if _, err := c.js.Publish("evaluation.completed", data); err != nil {
		c.logger.Error("Failed to publish tick stats", zap.Error(err))
	}
}

func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *MetricsCollector) collect() {
	stats := RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now().UTC(),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else if err != nil {
		c.logger.Warn("Failed to sample CPU usage", zap.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsed = vm.Used
		stats.MemoryPercent = vm.UsedPercent
	} else {
		c.logger.Warn("Failed to sample memory usage", zap.Error(err))
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal runtime stats", zap.Error(err))
		return
	}
	if _, err := c.js.Publish("evaluation.runtime", data); err != nil {
		c.logger.Error("Failed to publish runtime stats", zap.Error(err))
	}
}
