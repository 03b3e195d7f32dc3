package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// StatsSink receives sampled system statistics. The database's key-value
// system_stats table implements it.
type StatsSink interface {
	UpdateSystemStat(ctx context.Context, name, value string) error
}

// StatsCollector periodically samples host CPU and memory usage and the
// current alert count, writing them through the sink for cross-request
// dashboards.
type StatsCollector struct {
	logger     *zap.Logger
	sink       StatsSink
	interval   time.Duration
	alertCount func() int
	stop       chan struct{}
}

// NewStatsCollector creates a collector. alertCount may be nil when no
// alert total should be recorded.
func NewStatsCollector(logger *zap.Logger, sink StatsSink, interval time.Duration, alertCount func() int) *StatsCollector {
	return &StatsCollector{
		logger:     logger.Named("stats-collector"),
		sink:       sink,
		interval:   interval,
		alertCount: alertCount,
		stop:       make(chan struct{}),
	}
}

// Start starts the collection loop.
func (c *StatsCollector) Start(ctx context.Context) {
	c.logger.Info("Starting stats collector",
		zap.Duration("interval", c.interval))
	go c.collectLoop(ctx)
}

// Stop stops the collection loop.
func (c *StatsCollector) Stop() {
	c.logger.Info("Stopping stats collector")
	close(c.stop)
}

func (c *StatsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one sample and writes it through the sink.
func (c *StatsCollector) Collect(ctx context.Context) {
	if percents, err := cpu.Percent(0, false); err != nil {
		c.logger.Error("Failed to sample CPU usage", zap.Error(err))
	} else if len(percents) > 0 {
		c.write(ctx, "cpu_percent", strconv.FormatFloat(percents[0], 'f', 2, 64))
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Error("Failed to sample memory usage", zap.Error(err))
	} else {
		c.write(ctx, "memory_percent", strconv.FormatFloat(vm.UsedPercent, 'f', 2, 64))
	}

	if c.alertCount != nil {
		c.write(ctx, "alerts_total", strconv.Itoa(c.alertCount()))
	}
}

func (c *StatsCollector) write(ctx context.Context, name, value string) {
	if err := c.sink.UpdateSystemStat(ctx, name, value); err != nil {
		c.logger.Error("Failed to record system stat",
			zap.String("stat", name),
			zap.Error(err))
	}
}
